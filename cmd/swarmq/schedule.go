package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"swarmq/internal/domain"
	"swarmq/internal/scheduler"
)

var (
	schedulePriority int
	scheduleAgent    string
	scheduleDisabled bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring task schedules",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <name> <cron-expr> <task-type> <payload-json>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scheduler.ValidateCronExpression(args[1]); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		nextRun, err := scheduler.NextRunTime(args[1], time.Now())
		if err != nil {
			return err
		}
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.store.CreateSchedule(cmd.Context(), domain.Schedule{
			Name:       args[0],
			CronExpr:   args[1],
			TaskType:   args[2],
			Payload:    json.RawMessage(args[3]),
			Priority:   schedulePriority,
			AssignedTo: scheduleAgent,
			Enabled:    !scheduleDisabled,
			NextRun:    nextRun,
		})
		if err != nil {
			return err
		}
		fmt.Printf("schedule %s created, next run %s\n", id, nextRun.Format(time.RFC3339))
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		schedules, err := svc.store.ListSchedules(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(schedules)
	},
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.store.DeleteSchedule(cmd.Context(), args[0])
	},
}

func init() {
	scheduleAddCmd.Flags().IntVar(&schedulePriority, "priority", domain.DefaultPriority, "priority for enqueued tasks")
	scheduleAddCmd.Flags().StringVar(&scheduleAgent, "agent", "", "hint enqueued tasks at a specific agent")
	scheduleAddCmd.Flags().BoolVar(&scheduleDisabled, "disabled", false, "create the schedule disabled")
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRmCmd)
	rootCmd.AddCommand(scheduleCmd)
}
