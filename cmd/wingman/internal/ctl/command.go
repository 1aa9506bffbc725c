// Package ctl holds the commands that change a running engine through its
// control surface.
package ctl

import (
	"github.com/spf13/cobra"
)

func NewToggleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Flip the bot between enabled and disabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return enabledCmd(cmd.OutOrStdout(), "/toggle")
		},
	}
}

func NewPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Disable the bot; inbound polling and sends stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return enabledCmd(cmd.OutOrStdout(), "/pause")
		},
	}
}

func NewResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Enable the bot and run a cycle right away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return enabledCmd(cmd.OutOrStdout(), "/resume")
		},
	}
}

func NewOpenersCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "openers",
		Short:   "Send first messages to matches nobody has written to yet",
		Args:    cobra.NoArgs,
		Example: "  wingman openers --limit 3",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return openersCmd(cmd.OutOrStdout(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum openers to send (0 uses engine.opener_limit)")

	return cmd
}

func NewMatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "List matches and intervene in a conversation",
	}

	var reason string
	block := &cobra.Command{
		Use:   "block <match-id>",
		Short: "Stop the bot from writing to a match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return matchStatusCmd(cmd.OutOrStdout(), args[0], "block", reason)
		},
	}
	block.Flags().StringVar(&reason, "reason", "", "Reason recorded on the match")

	unblock := &cobra.Command{
		Use:   "unblock <match-id>",
		Short: "Hand a match back to the bot and clear its last error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return matchStatusCmd(cmd.OutOrStdout(), args[0], "unblock", "")
		},
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List matches with their backlog and last error",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return matchListCmd(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(list, block, unblock)
	return cmd
}
