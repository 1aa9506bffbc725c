package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/wingman/cmd/wingman/internal"
	"github.com/tinyland-inc/wingman/pkg/bus"
	"github.com/tinyland-inc/wingman/pkg/config"
	"github.com/tinyland-inc/wingman/pkg/control"
	"github.com/tinyland-inc/wingman/pkg/engine"
	"github.com/tinyland-inc/wingman/pkg/generator"
	"github.com/tinyland-inc/wingman/pkg/logger"
	"github.com/tinyland-inc/wingman/pkg/notify"
	"github.com/tinyland-inc/wingman/pkg/providers"
	"github.com/tinyland-inc/wingman/pkg/ratelimit"
	"github.com/tinyland-inc/wingman/pkg/session"
	"github.com/tinyland-inc/wingman/pkg/transport"
)

const stopTimeout = 15 * time.Second

func serveCmd(parent context.Context, debug, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.SetupLogging(cfg, debug); err != nil {
		return err
	}
	if debug {
		fmt.Println("🔍 Debug mode enabled")
	}
	if err := internal.ResolveCredentials(cfg); err != nil {
		return err
	}

	store, err := session.Open(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("error opening session store: %w", err)
	}
	defer store.Close()

	eventBus := bus.NewEventBus()
	defer eventBus.Close()

	eng, gen, err := buildEngine(cfg, store, eventBus)
	if err != nil {
		return err
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		return fmt.Errorf("error creating notifier: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("error starting engine: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := eng.Stop(stopCtx); err != nil {
			logger.ErrorCF("serve", "Engine stop failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	fmt.Printf("%s wingman %s\n", internal.Logo, internal.FormatVersion())
	fmt.Printf("  • Transport: %s\n", cfg.Platform.Transport)
	fmt.Printf("  • Generator: %s (%s)\n", cfg.Generator.Provider, gen.Model())
	fmt.Printf("  • Enabled:   %v\n", eng.Enabled())

	if once {
		report, err := eng.PollCycle(ctx)
		if err != nil {
			return fmt.Errorf("poll cycle failed: %w", err)
		}
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("  • Control:   http://%s\n\n", cfg.ControlAddr())
	srv := control.NewServer(eng, cfg.Control.Token)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.ControlAddr())
	})
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil {
			_ = notifier.Notify(context.WithoutCancel(gctx), "wingman stopped: "+err.Error())
			return err
		}
		// Run only returns nil once gctx is done; the server follows it down.
		return nil
	})
	g.Go(func() error {
		notify.Forward(gctx, eventBus, notifier)
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("\n✓ wingman stopped")
	return nil
}

// buildEngine wires the engine's collaborators from cfg.
func buildEngine(cfg *config.Config, store *session.Store, eventBus *bus.EventBus) (*engine.Engine, *generator.Generator, error) {
	rate, err := ratelimit.NewFromConfig(cfg.Rate)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating rate controller: %w", err)
	}

	tr, err := transport.New(cfg.Platform)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating transport: %w", err)
	}

	provider, err := providers.CreateProvider(cfg.Generator, internal.ProviderTokenFunc(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating provider: %w", err)
	}
	persona, err := generator.LoadPersona(cfg.PersonaPath(), cfg.Generator)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading persona: %w", err)
	}
	gen := generator.New(provider, persona, cfg.Generator)

	quiet, err := engine.NewQuietHours(cfg.QuietHours)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing quiet hours: %w", err)
	}

	eng, err := engine.New(cfg, engine.Deps{
		Store:     store,
		Transport: tr,
		Generator: gen,
		Rate:      rate,
		Bus:       eventBus,
		Meter:     gen.Meter(),
		Quiet:     quiet,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.InfoCF("serve", "Engine wired", map[string]any{
		"transport":   tr.Name(),
		"provider":    cfg.Generator.Provider,
		"model":       gen.Model(),
		"persona":     persona.Name,
		"quiet_hours": quiet != nil,
		"global_cap":  cfg.Rate.GlobalCap,
		"hourly_cap":  cfg.Rate.HourlyCap,
	})
	return eng, gen, nil
}
