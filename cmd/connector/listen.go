package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oarkflow/connector"
)

var listenCmd = &cobra.Command{
	Use:   "listen <event>...",
	Short: "Prints pushed events until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		for _, event := range args {
			s.conn.On(event, func(r connector.Response) {
				fmt.Printf("%s %s\n", r.Route, r.Payload)
			})
		}
		s.run(func() {})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
