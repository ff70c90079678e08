package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/config"
	"github.com/five82/printfarm/internal/dispatch"
	"github.com/five82/printfarm/internal/farmapi"
	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/poll"
	"github.com/five82/printfarm/internal/prefs"
	"github.com/five82/printfarm/internal/state"
	"github.com/five82/printfarm/internal/stream"
	"github.com/five82/printfarm/internal/ui"
	"github.com/five82/printfarm/internal/views"
)

// Options configure the printfarm application. Non-empty fields override the
// config file.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/printfarm/prefs.toml
	Server     string
	LogLevel   string
	NoStream   bool
}

// Run boots the dashboard until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, opts)

	closeLog, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// Validate the origin up front; both transports derive from it.
	if _, err := stream.Endpoint(cfg.Server, cfg.StreamPath); err != nil {
		return fmt.Errorf("stream endpoint: %w", err)
	}
	api, err := farmapi.NewClient(cfg.Server)
	if err != nil {
		return fmt.Errorf("init farm client: %w", err)
	}

	userPrefs, err := prefs.Load(opts.PrefsPath)
	if err != nil {
		logging.Warn().Err(err).Msg("prefs unreadable, using defaults")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopMetrics, err := startMetrics(ctx, cfg.MetricsBind)
	if err != nil {
		return err
	}
	defer stopMetrics()

	rt := newRuntime(api, cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.poller.Run(ctx)
	}()
	if !opts.NoStream {
		rt.push.Enable()
	}

	logging.Info().
		Str("server", api.BaseURL()).
		Bool("stream", !opts.NoStream).
		Msg("printfarm started")

	err = ui.Run(ui.Options{
		Context:       ctx,
		Views:         rt.views,
		Roster:        rt.roster,
		Stream:        rt.push,
		StreamEnabled: !opts.NoStream,
		Poller:        rt.poller,
		ThemeName:     userPrefs.Theme,
		ShowTemps:     userPrefs.ShowTemperatures,
		PrefsPath:     opts.PrefsPath,
	})

	cancel()
	rt.push.Close()
	wg.Wait()
	logging.Info().Msg("printfarm stopped")
	return err
}

// runtime is the object graph shared by the push and poll paths.
type runtime struct {
	cache  *cache.Store
	roster *state.Store
	push   *stream.Client
	poller *poll.Source
	views  views.Set
}

func newRuntime(fetcher farmapi.Fetcher, cfg config.Config) *runtime {
	store := cache.NewStore()
	roster := &state.Store{}

	push := stream.New(dispatch.New(store), stream.Options{
		Server:            cfg.Server,
		Path:              cfg.StreamPath,
		ReconnectDelay:    cfg.ReconnectDelay,
		KeepaliveInterval: cfg.KeepaliveInterval,
		OnStateChange: func(s stream.State) {
			roster.SetStreamState(s.String())
		},
	})

	poller := poll.New(fetcher, store, roster, poll.Options{
		StatusInterval:   cfg.StatusInterval,
		RosterInterval:   cfg.RosterInterval,
		FilamentInterval: cfg.FilamentInterval,
	})

	return &runtime{
		cache:  store,
		roster: roster,
		push:   push,
		poller: poller,
		views:  views.New(store, poller),
	}
}

func applyOverrides(cfg *config.Config, opts Options) {
	if s := strings.TrimSpace(opts.Server); s != "" {
		cfg.Server = s
	}
	if l := strings.TrimSpace(opts.LogLevel); l != "" {
		cfg.LogLevel = l
	}
}

// initLogging points the global logger at log_file. Without one, logs are
// discarded so they cannot corrupt the terminal.
func initLogging(cfg config.Config) (func(), error) {
	if cfg.LogFile == "" {
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: io.Discard})
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: f})
	return func() { _ = f.Close() }, nil
}
