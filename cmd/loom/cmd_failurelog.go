package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

var failureLogCmd = &cobra.Command{
	Use:   "failure-log",
	Short: "Record or list failed fix attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetString("entity")
		fix, _ := cmd.Flags().GetString("fix")
		reason, _ := cmd.Flags().GetString("reason")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if fix != "" {
			id, err := s.LogFailure(store.LogFailureInput{
				EntityName:    entity,
				AttemptedFix:  fix,
				FailureReason: reason,
			})
			if err != nil {
				return err
			}
			fmt.Printf("logged failure #%d\n", id)
			return nil
		}

		logs, err := s.GetFailureLogs(store.GetFailureLogsFilter{EntityName: entity, Limit: 20})
		if err != nil {
			return err
		}
		for _, l := range logs {
			fmt.Printf("#%d [%s] %s: %s\n", l.ID, l.Timestamp, l.EntityName, l.AttemptedFix)
			if l.FailureReason != "" {
				fmt.Printf("    reason: %s\n", l.FailureReason)
			}
		}
		return nil
	},
}

func init() {
	failureLogCmd.Flags().String("entity", "", "Entity name to log against or filter by")
	failureLogCmd.Flags().String("fix", "", "Record a new attempted fix (omit to list instead)")
	failureLogCmd.Flags().String("reason", "", "Why the attempted fix failed")
}

// attemptedFixesCmd is a read-only alias over the same table, for the
// common "what have we already tried against this?" question.
var attemptedFixesCmd = &cobra.Command{
	Use:   "attempted-fixes <entity-name>",
	Short: "Show prior failed fix attempts against an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		logs, err := s.GetFailureLogs(store.GetFailureLogsFilter{EntityName: args[0], Limit: 50})
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("no prior attempts recorded")
			return nil
		}
		for _, l := range logs {
			fmt.Printf("#%d [%s] %s\n", l.ID, l.Timestamp, l.AttemptedFix)
			if l.FailureReason != "" {
				fmt.Printf("    reason: %s\n", l.FailureReason)
			}
		}
		return nil
	},
}
