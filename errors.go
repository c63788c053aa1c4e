package regbus

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization is returned when the bus peripheral cannot be mapped or opened.
	ErrInitialization = errors.New("bus initialization failed")
	// ErrBusBusy is returned when the bus is already owned by another controller or session.
	ErrBusBusy = errors.New("bus is in use")
	// ErrInvalidState is returned when an operation is issued outside of its valid lifecycle state.
	ErrInvalidState = errors.New("invalid bus state")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Status is the bus level outcome of a single transaction.
// The lower values match the BCM2835 BSC reason codes.
type Status byte

const (
	StatusOK           Status = 0x00
	StatusNACK         Status = 0x01
	StatusClockStretch Status = 0x02
	StatusData         Status = 0x04
	StatusBusy         Status = 0x08
	StatusUnknown      Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNACK:
		return "nack"
	case StatusClockStretch:
		return "clock stretch timeout"
	case StatusData:
		return "data error"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// TransferError reports a failed bus transaction together with the status code
// returned by the peripheral.
type TransferError struct {
	Op      string
	Address byte
	Status  Status
	Err     error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %#02x failed (%s): %v", e.Op, e.Address, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %#02x failed (%s)", e.Op, e.Address, e.Status)
}

func (e *TransferError) Unwrap() error { return e.Err }

// NewTransferError is used by peripherals to report a failure with a known status.
func NewTransferError(op string, status Status, err error) *TransferError {
	return &TransferError{Op: op, Status: status, Err: err}
}

// StatusOf extracts the bus status from an error chain. A nil error maps to StatusOK,
// errors that carry no status map to StatusUnknown.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var terr *TransferError
	if errors.As(err, &terr) {
		return terr.Status
	}
	return StatusUnknown
}

// transferError makes sure every bus failure leaving a session is a *TransferError
// stamped with the session's slave address. Requests a peripheral refuses before touching
// the bus keep their ErrInvalidArgument.
func transferError(op string, address byte, err error) error {
	if errors.Is(err, ErrInvalidArgument) {
		return err
	}
	var terr *TransferError
	if errors.As(err, &terr) {
		return &TransferError{Op: op, Address: address, Status: terr.Status, Err: terr.Err}
	}
	return &TransferError{Op: op, Address: address, Status: StatusUnknown, Err: err}
}
