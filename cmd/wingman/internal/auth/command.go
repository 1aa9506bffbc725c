package auth

import (
	"github.com/spf13/cobra"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage platform and generator credentials",
	}

	var provider string
	var fromStdin bool
	login := &cobra.Command{
		Use:   "login",
		Short: "Save a token for the platform or a generator provider",
		Args:  cobra.NoArgs,
		Example: `  wingman auth login --provider platform
  wingman auth login --provider anthropic
  echo "$TOKEN" | wingman auth login --provider platform --stdin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return loginCmd(cmd, provider, fromStdin)
		},
	}
	login.Flags().StringVarP(&provider, "provider", "p", "platform", "platform, anthropic or openai")
	login.Flags().BoolVar(&fromStdin, "stdin", false, "Read the token from standard input")

	var logoutProvider string
	logout := &cobra.Command{
		Use:   "logout",
		Short: "Remove a saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logoutCmd(cmd, logoutProvider)
		},
	}
	logout.Flags().StringVarP(&logoutProvider, "provider", "p", "platform", "platform, anthropic or openai")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which credentials are saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return authStatusCmd(cmd)
		},
	}

	cmd.AddCommand(login, logout, status)
	return cmd
}
