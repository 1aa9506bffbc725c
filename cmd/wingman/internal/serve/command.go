package serve

import (
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	var debug bool
	var once bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the conversation engine and control surface",
		Args:    cobra.NoArgs,
		Example: `  wingman serve
  wingman serve --debug
  wingman serve --once`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd.Context(), debug, once)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single poll cycle and exit")

	return cmd
}
