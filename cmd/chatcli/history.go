package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Print the turns stored for a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := root.client().Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(messages)
			}

			if len(messages) == 0 {
				fmt.Fprintln(out, "No turns yet.")
				return nil
			}
			for _, msg := range messages {
				fmt.Fprintf(out, "#%d %s [%s]\n%s\n\n", msg.Seq, msg.Role, msg.Timestamp.Local().Format(time.DateTime), msg.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newThreadsCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List your most recently updated threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := root.client().Threads(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads.")
				return nil
			}
			for _, thread := range threads {
				fmt.Fprintf(out, "%s  %s  %s\n", thread.ID, thread.UpdatedAt.Local().Format(time.DateTime), thread.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of threads to show")
	return cmd
}
