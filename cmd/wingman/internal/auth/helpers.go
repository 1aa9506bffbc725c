package auth

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/auth"
)

func loginCmd(cmd *cobra.Command, provider string, fromStdin bool) error {
	if !auth.KnownProvider(provider) {
		return fmt.Errorf("unknown provider %q (want platform, anthropic or openai)", provider)
	}

	var cred *auth.AuthCredential
	var err error
	if fromStdin {
		cred, err = auth.LoginPasteToken(provider, cmd.InOrStdin())
	} else {
		cred, err = readMasked(provider)
	}
	if err != nil {
		return err
	}

	if err := auth.SetCredential(internal.GetAuthPath(), cred); err != nil {
		return fmt.Errorf("error saving credential: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s credential to %s\n", provider, internal.GetAuthPath())
	return nil
}

// readMasked prompts on the terminal without echoing the token.
func readMasked(provider string) (*auth.AuthCredential, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "Paste your %s:\n", auth.TokenHint(provider))
	raw, err := rl.ReadPassword("> ")
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil, errors.New("login cancelled")
		}
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return auth.NewTokenCredential(provider, string(raw))
}

func logoutCmd(cmd *cobra.Command, provider string) error {
	existed, err := auth.DeleteCredential(internal.GetAuthPath(), provider)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s credential saved\n", provider)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s credential\n", provider)
	return nil
}

func authStatusCmd(cmd *cobra.Command) error {
	store, err := auth.LoadStore(internal.GetAuthPath())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	now := time.Now()
	for _, p := range []string{auth.ProviderPlatform, auth.ProviderAnthropic, auth.ProviderOpenAI} {
		cred, ok := store.Credentials[p]
		switch {
		case !ok:
			fmt.Fprintf(w, "  %-10s %s\n", p, color.New(color.FgYellow).Sprint("not set"))
		case cred.Expired(now):
			fmt.Fprintf(w, "  %-10s %s\n", p, color.New(color.FgRed).Sprint("expired"))
		default:
			fmt.Fprintf(w, "  %-10s %s (%s)\n", p, color.New(color.FgGreen).Sprint("saved"), mask(cred.AccessToken))
		}
	}
	var extra []string
	for p := range store.Credentials {
		if !auth.KnownProvider(p) {
			extra = append(extra, p)
		}
	}
	slices.Sort(extra)
	for _, p := range extra {
		fmt.Fprintf(w, "  %-10s saved (unused)\n", p)
	}
	return nil
}

func mask(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
