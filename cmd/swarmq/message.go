package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sendTo    string
	sendTopic string
	recvTopic string
)

var sendCmd = &cobra.Command{
	Use:   "send <from> <payload-json>",
	Short: "Send a message to an agent, or broadcast when --to is empty",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.bus.Send(cmd.Context(), args[0], sendTo, sendTopic, json.RawMessage(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("message %d sent\n", id)
		return nil
	},
}

var recvCmd = &cobra.Command{
	Use:   "recv <agent-id>",
	Short: "Receive (and consume) pending messages for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		msgs, err := svc.bus.Receive(cmd.Context(), args[0], recvTopic)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("no messages")
			return nil
		}
		return printJSON(msgs)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient agent id (empty broadcasts)")
	sendCmd.Flags().StringVar(&sendTopic, "topic", "general", "message topic")
	recvCmd.Flags().StringVar(&recvTopic, "topic", "", "filter by topic")
	rootCmd.AddCommand(sendCmd, recvCmd)
}
