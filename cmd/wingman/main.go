// Wingman - conversation bot for dating platforms
// Derived from PicoClaw: https://github.com/sipeed/picoclaw
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/auth"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/ctl"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/preview"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/serve"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/status"
	"github.com/tinyland-inc/wingman/cmd/wingman/internal/version"
)

func NewWingmanCommand() *cobra.Command {
	short := fmt.Sprintf("%s wingman - dating conversation bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:          "wingman",
		Short:        short,
		Example:      "wingman serve",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigPath, "config", "c", "",
		"Config file (default ~/.wingman/config.json)")

	cmd.AddCommand(
		serve.NewServeCommand(),
		status.NewStatusCommand(),
		status.NewStatsCommand(),
		ctl.NewToggleCommand(),
		ctl.NewPauseCommand(),
		ctl.NewResumeCommand(),
		ctl.NewOpenersCommand(),
		ctl.NewMatchCommand(),
		preview.NewPreviewCommand(),
		auth.NewAuthCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewWingmanCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
