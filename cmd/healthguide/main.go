// Command healthguide is the terminal client for Health Guide: a live voice
// call with the assistant and a grounded text chat, both backed by Gemini.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/healthguide/internal/chat"
	"github.com/MrWong99/healthguide/internal/config"
	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/internal/resilience"
	"github.com/MrWong99/healthguide/internal/session"
)

const version = "0.1.0"

// defaultConfigPath is loaded when -config is not given and the file exists.
const defaultConfigPath = "healthguide.yaml"

const usageText = `Usage: healthguide [flags] [command]

Commands:
  call    talk to Health Guide through the microphone and speaker (default)
  chat    text chat with web-grounded answers
  voices  list the available call voices

Flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("healthguide", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (default "+defaultConfigPath+" when present)")
	voiceName := fs.String("voice", "", "call voice: Kore, Puck, Fenrir, Zephyr or Charon")
	envFile := fs.String("env", ".env", "dotenv file providing GEMINI_API_KEY")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	mode := "call"
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "healthguide: unexpected arguments %q\n", fs.Args()[1:])
		return 2
	}
	switch mode {
	case "voices":
		printVoices(os.Stdout)
		return 0
	case "call", "chat":
	default:
		fmt.Fprintf(os.Stderr, "healthguide: unknown command %q\n", mode)
		fs.Usage()
		return 2
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "healthguide: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "healthguide: config file %q not found; copy configs/healthguide.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "healthguide: %v\n", err)
		}
		return 1
	}
	if *voiceName != "" {
		v, err := session.ParseVoice(*voiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "healthguide: %v\n", err)
			return 2
		}
		cfg.Call.Voice = string(v)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("healthguide starting",
		"mode", mode,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "healthguide",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, logger)

	app := &cli{
		cfg:     cfg,
		path:    path,
		reg:     reg,
		level:   level,
		logger:  logger,
		metrics: observe.DefaultMetrics(),
		scrape:  tel.MetricsHandler(),
		in:      os.Stdin,
		out:     os.Stdout,
	}
	printStartupSummary(app.out, cfg, mode)

	if err := app.serve(ctx, mode); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// cli carries the state shared by the call and chat modes and the HTTP
// listener.
type cli struct {
	cfg     *config.Config
	path    string // "" when running on defaults
	reg     *config.Registry
	level   *slog.LevelVar
	logger  *slog.Logger
	metrics *observe.Metrics
	scrape  http.Handler // nil serves the default Prometheus registry
	in      io.Reader
	out     io.Writer

	ctrl     atomic.Pointer[session.Controller]
	chat     atomic.Pointer[chat.Session]
	fallback atomic.Pointer[resilience.ModelFallback]
}

// serve runs mode alongside the optional HTTP listener until the mode ends,
// ctx is cancelled or the listener fails.
func (c *cli) serve(ctx context.Context, mode string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if c.cfg.Server.ListenAddr != "" {
		srv := c.newServer()
		g.Go(func() error { return listen(srv, c.cfg.Server.TLS) })
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		if mode == "chat" {
			return c.runChat(gctx)
		}
		return c.runCall(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig reads the file at path, falling back to [defaultConfigPath] and
// then to built-in defaults when path is empty. It returns the path actually
// loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), "", nil
		}
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// watchConfig starts hot reload of the config file when one was loaded.
// The returned stop function is never nil.
func (c *cli) watchConfig(voices chan session.Voice) func() {
	if c.path == "" {
		return func() {}
	}
	w, err := config.NewWatcher(c.path, func(old, new *config.Config) {
		c.applyReload(config.Diff(old, new), new, voices)
	}, config.WithWatcherLogger(c.logger))
	if err != nil {
		c.logger.Warn("config hot reload disabled", "err", err)
		return func() {}
	}
	return w.Stop
}

func (c *cli) applyReload(d config.ConfigDiff, next *config.Config, voices chan session.Voice) {
	if d.LogLevelChanged {
		c.level.Set(slogLevel(d.NewLogLevel))
		c.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.InstructionsChanged {
		if ctrl := c.ctrl.Load(); ctrl != nil {
			ctrl.SetInstructions(next.Call.Instructions)
			c.logger.Info("call instructions changed; applies from the next call")
		}
	}
	if d.VoiceChanged && voices != nil {
		if v, err := session.ParseVoice(d.NewVoice); err == nil {
			// Keep only the latest pending voice.
			select {
			case <-voices:
			default:
			}
			voices <- v
		}
	}
	if len(d.Restart) > 0 {
		c.logger.Warn("configuration changes take effect after a restart", "fields", d.Restart)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, mode string) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║      Health Guide: startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Mode", mode)
	switch mode {
	case "call":
		printRow(w, "Live", providerLabel(cfg.Providers.Live))
		printRow(w, "Audio", providerLabel(cfg.Providers.Audio))
		printRow(w, "Voice", cfg.Call.Voice)
	case "chat":
		printRow(w, "Chat", providerLabel(cfg.Providers.Chat))
		search := "on"
		if cfg.Chat.DisableSearch {
			search = "off"
		}
		printRow(w, "Web search", search)
		if len(cfg.Chat.FallbackModels) > 0 {
			printRow(w, "Fallbacks", strings.Join(cfg.Chat.FallbackModels, ", "))
		}
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func printRow(w io.Writer, key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}

func printVoices(w io.Writer) {
	for _, v := range session.Voices() {
		mark := " "
		if v.Voice == session.DefaultVoice {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-7s %s\n", mark, v.Voice, v.Label)
	}
}
