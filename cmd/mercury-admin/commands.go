package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mercury-pubsub/mercury/client"
)

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List yourself and the users ranked below you",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				users, err := a.client.Users().List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, users)
			},
		},
		&cobra.Command{
			Use:   "create <name> <password>",
			Short: "Create a user ranked below you",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := a.client.Users().Create(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, user)
			},
		},
		&cobra.Command{
			Use:   "rename <name>",
			Short: "Rename yourself",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.client.Users().Rename(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "change-password <password>",
			Short: "Change your password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.client.Users().ChangePassword(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a user ranked below you",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return a.client.Users().Delete(cmd.Context(), ids[0])
			},
		},
	)
	return cmd
}

func (a *app) channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage channels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List channels",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				channels, err := a.client.Channels().List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, channels)
			},
		},
		&cobra.Command{
			Use:   "create <name> <schema-json>",
			Short: "Create a channel whose messages must match a JSON schema",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				schema, err := parseSchema(args[1])
				if err != nil {
					return err
				}
				channel, err := a.client.Channels().Create(cmd.Context(), args[0], schema)
				if err != nil {
					return err
				}
				return printJSON(cmd, channel)
			},
		},
		&cobra.Command{
			Use:   "rename <id> <name>",
			Short: "Rename a channel",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args[:1])
				if err != nil {
					return err
				}
				channel, err := a.client.Channels().Rename(cmd.Context(), ids[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, channel)
			},
		},
		&cobra.Command{
			Use:   "change-schema <id> <schema-json>",
			Short: "Replace a channel's schema",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args[:1])
				if err != nil {
					return err
				}
				schema, err := parseSchema(args[1])
				if err != nil {
					return err
				}
				channel, err := a.client.Channels().ChangeSchema(cmd.Context(), ids[0], schema)
				if err != nil {
					return err
				}
				return printJSON(cmd, channel)
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a channel, ending its subscriptions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return a.client.Channels().Delete(cmd.Context(), ids[0])
			},
		},
	)
	return cmd
}

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys, err := a.client.Keys().List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, keys)
			},
		},
		&cobra.Command{
			Use:   "create <publisher|subscriber> <channel-id>...",
			Short: "Create a key granted on one or more channels and print its token",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				typ := client.KeyType(args[0])
				if typ != client.Publisher && typ != client.Subscriber {
					return fmt.Errorf("key type must be %q or %q", client.Publisher, client.Subscriber)
				}
				ids, err := parseIDs(args[1:])
				if err != nil {
					return err
				}
				token, err := a.client.Keys().Create(cmd.Context(), typ, ids...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			},
		},
		&cobra.Command{
			Use:   "list-channels <id>",
			Short: "List the channels a key is granted on",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				channels, err := a.client.Keys().ListChannels(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, channels)
			},
		},
		&cobra.Command{
			Use:   "set-channels <id> <channel-id>...",
			Short: "Replace the channels a key is granted on",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return a.client.Keys().SetChannels(cmd.Context(), ids[0], ids[1:]...)
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a key, ending its subscriptions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				return a.client.Keys().Delete(cmd.Context(), ids[0])
			},
		},
	)
	return cmd
}
