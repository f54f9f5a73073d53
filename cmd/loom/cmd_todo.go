package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

var todoCmd = &cobra.Command{
	Use:   "todo",
	Short: "Manage the TODO queue",
}

var todoAddCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Add a new todo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		entity, _ := cmd.Flags().GetString("entity")
		critical, _ := cmd.Flags().GetBool("critical")
		priority, _ := cmd.Flags().GetInt("priority")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.AddTodo(store.AddTodoInput{
			Prompt: args[0], Title: title, EntityName: entity, Critical: critical, Priority: priority,
		})
		if err != nil {
			return err
		}
		fmt.Printf("added todo #%d\n", id)
		return nil
	},
}

var todoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List todos",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		todos, err := s.ListTodos(store.ListTodosFilter{Status: status})
		if err != nil {
			return err
		}
		printTodos(todos)
		return nil
	},
}

var todoNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next todo to work on",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		criticalFirst, _ := cmd.Flags().GetBool("critical-first")
		t, err := s.GetNextTodo(criticalFirst)
		if err != nil {
			return err
		}
		if t == nil {
			fmt.Println("no pending todos")
			return nil
		}
		printTodos([]store.Todo{*t})
		return nil
	},
}

var todoShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single todo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		t, err := s.GetTodo(id)
		if err != nil {
			return err
		}
		printTodos([]store.Todo{*t})
		return nil
	},
}

var todoStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Mark a todo in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.StartTodo(id)
	},
}

var todoDoneCmd = &cobra.Command{
	Use:   "done <id> [notes]",
	Short: "Mark a todo complete",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		notes := ""
		if len(args) > 1 {
			notes = args[1]
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.CompleteTodo(id, notes)
	},
}

var todoCombineCmd = &cobra.Command{
	Use:   "combine <target-id> <source-id...>",
	Short: "Merge source todos into a target todo",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		var sources []int64
		for _, a := range args[1:] {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return err
			}
			sources = append(sources, id)
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.CombineTodos(target, sources)
	},
}

var todoMoveCmd = &cobra.Command{
	Use:   "move <id> <position>",
	Short: "Reorder a todo to a new position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.ReorderTodo(id, position)
	},
}

var todoEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a todo's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		in := store.UpdateTodoInput{}
		if v, _ := cmd.Flags().GetString("prompt"); v != "" {
			in.Prompt = &v
		}
		if v, _ := cmd.Flags().GetString("title"); v != "" {
			in.Title = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetInt("priority")
			in.Priority = &v
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.UpdateTodo(id, in)
	},
}

var todoDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a todo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return s.DeleteTodo(id)
	},
}

var todoStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show todo counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetTodoStats()
		if err != nil {
			return err
		}
		fmt.Printf("total=%d pending=%d in_progress=%d completed=%d combined=%d critical=%d avg_priority=%.2f\n",
			stats.Total, stats.Pending, stats.InProgress, stats.Completed, stats.Combined, stats.Critical, stats.AvgPriority)
		return nil
	},
}

var todoSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search todos by text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		todos, err := s.SearchTodos(args[0], 20)
		if err != nil {
			return err
		}
		printTodos(todos)
		return nil
	},
}

func printTodos(todos []store.Todo) {
	for _, t := range todos {
		marker := " "
		if t.Critical {
			marker = "!"
		}
		fmt.Printf("#%-5d%s [%-11s] %s\n", t.ID, marker, t.Status, t.Prompt)
	}
	fmt.Printf("\n%d todo(s)\n", len(todos))
}

func init() {
	todoAddCmd.Flags().String("title", "", "Short title")
	todoAddCmd.Flags().String("entity", "", "Entity name this todo is about")
	todoAddCmd.Flags().Bool("critical", false, "Mark critical")
	todoAddCmd.Flags().Int("priority", 0, "Priority (higher runs first)")
	todoListCmd.Flags().String("status", "", "Filter by status")
	todoNextCmd.Flags().Bool("critical-first", true, "Order critical todos ahead of priority")
	todoEditCmd.Flags().String("prompt", "", "New prompt text")
	todoEditCmd.Flags().String("title", "", "New title")
	todoEditCmd.Flags().Int("priority", 0, "New priority")

	todoCmd.AddCommand(
		todoAddCmd, todoListCmd, todoNextCmd, todoShowCmd, todoStartCmd, todoDoneCmd,
		todoCombineCmd, todoMoveCmd, todoEditCmd, todoDeleteCmd, todoStatsCmd, todoSearchCmd,
	)
}
