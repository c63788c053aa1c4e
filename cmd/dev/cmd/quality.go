package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func runner(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run()
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

func TestCmd() *cobra.Command {
	return runner("test", "Run unit tests against the simulated bus", "tests", test.Test)
}

func LintCmd() *cobra.Command {
	return runner("lint", "Run linting", "linting", test.Lint)
}

// IntegrationTestCmd runs tests that need a real bus or adapter attached.
func IntegrationTestCmd() *cobra.Command {
	return runner("integration-test", "Run integration tests on attached hardware", "integration testing", test.Integ)
}
