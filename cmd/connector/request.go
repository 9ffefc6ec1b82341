package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oarkflow/connector"
)

var requestCmd = &cobra.Command{
	Use:   "request <route> [json]",
	Short: "Sends a request and prints the response",
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
		var failed error
		s.run(func() {
			s.conn.Request(args[0], payload, func(r connector.Response) {
				if r.Err != nil {
					failed = fmt.Errorf("%s failed: %w", args[0], r.Err)
				} else {
					fmt.Printf("%s\n", r.Payload)
				}
				s.stop()
			})
		})
		return failed
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
}
