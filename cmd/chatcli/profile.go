package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/chatrelay/internal/chatclient"
)

func newProfileCmd(root *rootOptions) *cobra.Command {
	var (
		displayName string
		webSearch   bool
		locale      string
		tz          string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile, or update it when flags are given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var (
				patch    chatclient.ProfileUpdate
				settings chatclient.ProfileSettingsUpdate
				changed  bool
			)
			if flags.Changed("display-name") {
				patch.DisplayName = &displayName
				changed = true
			}
			if flags.Changed("web-search-default") {
				settings.WebSearchDefault = &webSearch
				changed = true
			}
			if flags.Changed("locale") {
				settings.Locale = &locale
				changed = true
			}
			if flags.Changed("tz") {
				settings.TZ = &tz
				changed = true
			}
			if settings != (chatclient.ProfileSettingsUpdate{}) {
				patch.Settings = &settings
			}

			client := root.client()
			var (
				profile chatclient.Profile
				err     error
			)
			if changed {
				profile, err = client.UpdateProfile(cmd.Context(), patch)
			} else {
				profile, err = client.Profile(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:       %s\n", profile.UserID)
			fmt.Fprintf(out, "name:       %s\n", profile.DisplayName)
			fmt.Fprintf(out, "web search: %t\n", profile.Settings.WebSearchDefault)
			fmt.Fprintf(out, "locale:     %s\n", profile.Settings.Locale)
			fmt.Fprintf(out, "timezone:   %s\n", profile.Settings.TZ)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "Set the display name")
	cmd.Flags().BoolVar(&webSearch, "web-search-default", false, "Use web search when a message does not choose")
	cmd.Flags().StringVar(&locale, "locale", "", "Set the preferred locale")
	cmd.Flags().StringVar(&tz, "tz", "", "Set the preferred time zone")
	return cmd
}
