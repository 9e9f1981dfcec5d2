package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"swarmq/internal/domain"
)

var (
	submitPriority int
	submitAgent    string
	listStatus     string
)

var submitCmd = &cobra.Command{
	Use:   "submit <type> <payload-json>",
	Short: "Enqueue a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.queue.Enqueue(cmd.Context(), args[0], json.RawMessage(args[1]), submitAgent, submitPriority)
		if err != nil {
			return err
		}
		fmt.Printf("task %d enqueued\n", id)
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		tasks, err := svc.queue.List(cmd.Context(), domain.TaskStatus(listStatus))
		if err != nil {
			return err
		}
		return printJSON(tasks)
	},
}

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show a task and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		t, err := svc.queue.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		history, err := svc.queue.History(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"task": t, "history": history})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate queue and agent counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		st, err := svc.queue.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(st)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	submitCmd.Flags().IntVar(&submitPriority, "priority", domain.DefaultPriority, "task priority (higher is more urgent)")
	submitCmd.Flags().StringVar(&submitAgent, "agent", "", "hint the task at a specific agent")
	tasksCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending|in_progress|complete|failed)")
	rootCmd.AddCommand(submitCmd, tasksCmd, taskCmd, statsCmd)
}
