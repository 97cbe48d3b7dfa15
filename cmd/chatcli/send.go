package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/chatrelay/internal/chatclient"
	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/sse"
)

var errStreamFailed = errors.New("stream reported an error")

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		threadID  string
		webSearch bool
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message and print the streamed reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			req := chatclient.Request{
				Message:        strings.Join(args, " "),
				ConversationID: threadID,
			}
			// unset lets the server apply the profile default
			if cmd.Flags().Changed("web-search") {
				req.Options.WebSearch = relay.Bool(webSearch)
			}

			summary, err := root.client().Stream(cmd.Context(), req, func(ev sse.Event) error {
				switch ev.Type {
				case sse.EventMessage:
					fmt.Fprint(out, ev.Data)
				case sse.EventPolicy:
					fmt.Fprintf(out, "[policy] %s", ev.Data)
				case sse.EventError:
					fmt.Fprintf(cmd.ErrOrStderr(), "[error] %s\n", ev.Data)
				}
				return nil
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			if len(summary.Errors) > 0 {
				return errStreamFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "Continue this thread (defaults to the newest one)")
	cmd.Flags().BoolVar(&webSearch, "web-search", false, "Ask the model to prefer current sourced information")
	return cmd
}
