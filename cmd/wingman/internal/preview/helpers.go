package preview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/providers"
	"github.com/tinyland-inc/wingman/pkg/session"
)

// Replier is the part of the generator a preview conversation needs.
type Replier interface {
	GenerateReply(ctx context.Context, match session.Match, history []session.Message) (string, error)
	GenerateOpener(ctx context.Context, match session.Match) (string, error)
}

// conversation is an in-memory stand-in for a match's stored history.
type conversation struct {
	gen     Replier
	match   session.Match
	history []session.Message
	now     func() time.Time
}

func newConversation(gen Replier, name string) *conversation {
	return &conversation{
		gen:   gen,
		match: session.Match{ID: "preview-" + uuid.NewString()[:8], Name: name, Status: session.MatchActive},
		now:   time.Now,
	}
}

func (c *conversation) add(dir session.Direction, text string) {
	c.history = append(c.history, session.Message{
		ID:        uuid.NewString(),
		MatchID:   c.match.ID,
		Direction: dir,
		Text:      text,
		Timestamp: c.now(),
		Status:    session.StatusSent,
	})
}

// Say records text as the match's message and returns the persona's reply.
func (c *conversation) Say(ctx context.Context, text string) (string, error) {
	c.add(session.Inbound, text)
	reply, err := c.gen.GenerateReply(ctx, c.match, c.history)
	if err != nil {
		return "", err
	}
	c.add(session.Outbound, reply)
	return reply, nil
}

// Opener starts the conversation over with a generated first message.
func (c *conversation) Opener(ctx context.Context) (string, error) {
	c.history = nil
	text, err := c.gen.GenerateOpener(ctx, c.match)
	if err != nil {
		return "", err
	}
	c.add(session.Outbound, text)
	return text, nil
}

func (c *conversation) Reset() { c.history = nil }

// handle runs one line of input. It returns false when the session should end.
func (c *conversation) handle(ctx context.Context, w io.Writer, input string) bool {
	switch input {
	case "":
		return true
	case "exit", "quit":
		fmt.Fprintln(w, "Goodbye!")
		return false
	case "/reset":
		c.Reset()
		fmt.Fprintln(w, "(conversation cleared)")
		return true
	case "/opener":
		text, err := c.Opener(ctx)
		printReply(w, text, err)
		return true
	}
	reply, err := c.Say(ctx, input)
	printReply(w, reply, err)
	return true
}

func printReply(w io.Writer, text string, err error) {
	if err != nil {
		if reason := generator.ReasonOf(err); reason != "" {
			fmt.Fprintf(w, "Error (%s): %v\n\n", reason, err)
		} else {
			fmt.Fprintf(w, "Error: %v\n\n", err)
		}
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", internal.Logo, text)
}

func previewCmd(name, message string, debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.SetupLogging(cfg, debug); err != nil {
		return err
	}

	provider, err := providers.CreateProvider(cfg.Generator, internal.ProviderTokenFunc(cfg))
	if err != nil {
		return fmt.Errorf("error creating provider: %w", err)
	}
	persona, err := generator.LoadPersona(cfg.PersonaPath(), cfg.Generator)
	if err != nil {
		return fmt.Errorf("error loading persona: %w", err)
	}
	gen := generator.New(provider, persona, cfg.Generator)
	conv := newConversation(gen, name)
	ctx := context.Background()

	if message != "" {
		reply, err := conv.Say(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", internal.Logo, reply)
		return nil
	}

	fmt.Printf("%s Previewing persona %q as %s (%s). /opener, /reset, exit\n\n",
		internal.Logo, persona.Name, name, gen.Model())
	interactiveMode(ctx, conv, name)
	return nil
}

func interactiveMode(ctx context.Context, conv *conversation, name string) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          name + ": ",
		HistoryFile:     filepath.Join(os.TempDir(), ".wingman_preview_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, conv, os.Stdin, os.Stdout, name)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !conv.handle(ctx, rl.Stdout(), strings.TrimSpace(line)) {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, conv *conversation, in io.Reader, out io.Writer, name string) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s: ", name)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			return
		}
		if !conv.handle(ctx, out, strings.TrimSpace(line)) {
			return
		}
	}
}
