package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Manage trace runs",
}

var traceShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a trace run's details and calls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := s.GetTraceRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Println("no such trace run")
			return nil
		}
		fmt.Printf("run %s: %s (status=%s)\n", run.RunID, run.Command, run.Status)
		fmt.Printf("started %s, ended %s\n", run.StartedAt, run.EndedAt)

		onlyFailed, _ := cmd.Flags().GetBool("failed")
		if onlyFailed {
			failed, err := s.GetFailedCalls(args[0], 0)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d failed call(s):\n", len(failed))
			for _, c := range failed {
				fmt.Printf("  %s: %s (%s)\n", c.FunctionName, c.ExceptionType, c.ExceptionMessage)
			}
			return nil
		}

		all, err := s.GetCallsForRun(args[0], false, false)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d call(s):\n", len(all))
		for _, c := range all {
			marker := ""
			if c.ExceptionType != "" {
				marker = " [" + c.ExceptionType + "]"
			}
			fmt.Printf("  %s%s\n", c.FunctionName, marker)
		}
		return nil
	},
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent trace runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, counts, err := s.ListTraceRuns(limit)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("%s  %-10s %-40s %d calls\n", run.RunID[:8], run.Status, run.Command, counts[run.RunID])
		}
		return nil
	},
}

func init() {
	traceShowCmd.Flags().Bool("failed", false, "Only show failed calls")
	traceListCmd.Flags().Int("limit", 10, "Number of runs to show")
	traceCmd.AddCommand(traceShowCmd, traceListCmd)
}
