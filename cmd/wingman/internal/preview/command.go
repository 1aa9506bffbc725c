package preview

import (
	"github.com/spf13/cobra"
)

func NewPreviewCommand() *cobra.Command {
	var name string
	var message string
	var debug bool

	cmd := &cobra.Command{
		Use:     "preview",
		Aliases: []string{"p"},
		Short:   "Chat with the persona locally without touching the platform",
		Args:    cobra.NoArgs,
		Example: `  wingman preview
  wingman preview --name Sam
  wingman preview -m "hey, how was your weekend?"`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return previewCmd(name, message, debug)
		},
	}

	cmd.Flags().StringVar(&name, "name", "Alex", "Name the persona addresses you by")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Send one message and print the reply")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
