package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal tasks and consumed messages past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.store.Cleanup(cmd.Context(), cleanupDays)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d tasks, %d messages\n", res.Tasks, res.Messages)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 7, "retention window in days")
	rootCmd.AddCommand(cleanupCmd)
}
