// Command chatcli sends chat messages to a chatrelay server and prints the
// streamed reply as it arrives.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/chatrelay/internal/chatclient"
)

type rootOptions struct {
	server string
	token  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Talk to a chatrelay server from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("CHATRELAY_SERVER", "http://localhost:8080"), "Base URL of the chatrelay server")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CHATRELAY_TOKEN"), "Bearer token (defaults to $CHATRELAY_TOKEN)")

	cmd.AddCommand(newSendCmd(opts), newHistoryCmd(opts), newThreadsCmd(opts), newProfileCmd(opts))
	return cmd
}

func (o *rootOptions) client() *chatclient.Client {
	return chatclient.New(o.server, chatclient.WithToken(o.token))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
