package main

import (
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <route> [json]",
	Short: "Sends a notify and exits",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := payloadArg(args, 1)
		if err != nil {
			return err
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		s.run(func() {
			s.conn.Notify(args[0], payload)
			s.stop()
		})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}
