package generator

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinyland-inc/wingman/pkg/config"
)

const defaultSystemPrompt = `You are {persona}, chatting with {match_name} on a dating app.
You are warm, playful and confident. Keep replies short (one or two sentences), casual and engaging.
Ask a light question now and then to keep the conversation going.
Never mention being an AI or a bot. Today is {date}, local time {time}.`

const defaultOpenerPrompt = `You just matched with {match_name}. Write a short, friendly opening message that invites a reply.
Do not use pickup lines. Reply with the message text only.`

// Persona shapes the voice of generated messages. Prompts may use the
// placeholders {persona}, {match_name}, {date} and {time}.
type Persona struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	OpenerPrompt string `yaml:"opener_prompt"`
	Timezone     string `yaml:"timezone"`
	// Avoid lists phrases a reply must never contain.
	Avoid []string `yaml:"avoid"`

	loc *time.Location
}

// LoadPersona reads a YAML persona from path. A missing file or empty
// fields fall back to the generator config and then to built-in defaults.
func LoadPersona(path string, cfg config.GeneratorConfig) (*Persona, error) {
	p := &Persona{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read persona %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, p); err != nil {
				return nil, fmt.Errorf("failed to parse persona %s: %w", path, err)
			}
		}
	}

	if p.Name == "" {
		p.Name = "Sam"
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = cfg.SystemPrompt
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaultSystemPrompt
	}
	if p.OpenerPrompt == "" {
		p.OpenerPrompt = cfg.OpenerPrompt
	}
	if p.OpenerPrompt == "" {
		p.OpenerPrompt = defaultOpenerPrompt
	}

	p.loc = time.UTC
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("persona timezone %q: %w", p.Timezone, err)
		}
		p.loc = loc
	}
	return p, nil
}

func (p *Persona) render(tmpl, matchName string, now time.Time) string {
	if matchName == "" {
		matchName = "your match"
	}
	local := now.In(p.loc)
	return strings.NewReplacer(
		"{persona}", p.Name,
		"{match_name}", matchName,
		"{date}", local.Format("January 2, 2006"),
		"{time}", local.Format("15:04"),
	).Replace(tmpl)
}

// violates reports the first avoided phrase found in text.
func (p *Persona) violates(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range p.Avoid {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return phrase, true
		}
	}
	return "", false
}
