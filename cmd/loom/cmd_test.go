package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

// testCmd wraps a test command with trace recording: it starts a trace
// run, executes the command, and ends the run with its exit status -
// the coarse-grained form of the tracer contract a process boundary
// allows, since Go has no equivalent of sys.settrace to instrument
// individual function calls inside an arbitrary test binary.
var testCmd = &cobra.Command{
	Use:   "test [-- test-command args...]",
	Short: "Run a test command with automatic trace recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		testArgs, _ := cmd.Flags().GetStringArray("cmd")
		var command []string
		if len(testArgs) > 0 {
			command = testArgs
		} else if len(args) > 0 {
			command = args
		} else {
			command = []string{"go", "test", "./..."}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runID, err := s.StartTraceRun(strings.Join(command, " "))
		if err != nil {
			return err
		}

		c := exec.Command(command[0], command[1:]...)
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()
		runErr := c.Run()

		exitCode := 0
		status := "completed"
		if runErr != nil {
			status = "failed"
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		if _, err := s.EndTraceRun(runID, status, &exitCode); err != nil {
			return err
		}

		fmt.Printf("run %s: %s (exit %d)\n", runID, status, exitCode)
		if runErr != nil && exitCode == 0 {
			return runErr
		}
		return nil
	},
}

func init() {
	testCmd.Flags().StringArray("cmd", nil, "Explicit test command (overrides trailing args)")
}
