package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"datajud-gateway/internal/aiclient"
	"datajud-gateway/internal/client"
	"datajud-gateway/internal/config"
	"datajud-gateway/internal/facade"
	"datajud-gateway/internal/handler"
	"datajud-gateway/internal/metrics"
	"datajud-gateway/internal/middleware"
	"datajud-gateway/internal/notify"
	"datajud-gateway/internal/service"
	"datajud-gateway/internal/store"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	config.CLI `embed:""`

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve  serveCmd  `cmd:"" default:"1" help:"Run the gateway server."`
	Search searchCmd `cmd:"" help:"Look up a process through the gateway."`
	Recent recentCmd `cmd:"" help:"List recent lookups."`
}

type serveCmd struct{}

type searchCmd struct {
	Tribunal  string `arg:"" help:"Tribunal alias, e.g. tjsp or trf1."`
	Number    string `arg:"" help:"CNJ process number, masked or digits only."`
	Summarize bool   `short:"s" help:"Ask the AI client for a plain-language summary."`
}

type recentCmd struct {
	Clear bool `help:"Forget recent lookups."`
}

func main() {
	loaded, err := config.LoadEnvFiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading env files: %v\n", err)
		os.Exit(1)
	}

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("datajud-gateway"),
		kong.Description("Forwarding gateway for the DataJud public API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	switch cmd := kctx.Command(); {
	case cmd == "serve":
		runServer(&c.CLI, loaded)
	case strings.HasPrefix(cmd, "search"):
		kctx.FatalIfErrorf(runSearch(&c.CLI, &c.Search))
	case cmd == "recent":
		kctx.FatalIfErrorf(runRecent(&c.CLI, &c.Recent))
	default:
		kctx.Fatalf("unknown command %q", cmd)
	}
}

func runServer(cliArgs *config.CLI, envFiles []string) {
	fx.New(
		fx.Provide(
			func() *config.CLI { return cliArgs },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewUpstreamClient,
			service.NewGateway,
			handler.NewGateway,
			newAIHolder,
			newNotifier,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			warnConfigPermissions,
			func(logger *slog.Logger) { logEnvFiles(logger, envFiles) },
			bootstrapAI,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	return buildLogger(cfg, os.Stdout)
}

func buildLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.RulePrefixes()...)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays 0 so long upstream answers are not cut off; the upstream
	// client timeout bounds each forward instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.StripHopByHop())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newAIHolder(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *aiclient.Holder {
	return aiclient.NewHolder(aiclient.NewFactory(logger, aiclient.WithMetrics(m)), cfg.AI.APIKey)
}

func newNotifier(lc fx.Lifecycle, logger *slog.Logger) *notify.Notifier {
	n := notify.New(notify.NewSlogSink(logger), logger)
	lc.Append(fx.StopHook(n.Close))
	return n
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logEnvFiles(logger *slog.Logger, files []string) {
	if len(files) > 0 {
		logger.Info("loaded env files", "files", files)
	}
}

// bootstrapAI resolves the AI client once at startup so /proxy/status reports
// it. An unavailable client leaves the gateway fully functional.
func bootstrapAI(lc fx.Lifecycle, holder *aiclient.Holder, n *notify.Notifier) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if res := holder.Get(ctx); !res.Ready() {
				n.Warning("AI features disabled: " + res.Reason().String())
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, gw *service.Gateway, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			for _, r := range gw.Rules() {
				logger.Info("forwarding rule", "prefix", r.Prefix, "upstream", r.Upstream.String())
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

// newFacade builds the command-line collaborators. Logs go to stderr so stdout
// carries only command output.
func newFacade(cliArgs *config.CLI) (*facade.Facade, func(), error) {
	cfg, err := config.Load(cliArgs)
	if err != nil {
		return nil, nil, err
	}
	logger := buildLogger(cfg, os.Stderr)

	kv := store.New(cfg.Store.Path, logger)
	n := notify.New(notify.NewSlogSink(logger), logger)
	holder := aiclient.NewHolder(aiclient.NewFactory(logger), cfg.AI.APIKey)
	uc := client.NewUpstreamClient(cfg, logger, nil)

	cleanup := func() {
		n.Close()
		if err := kv.Close(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}
	return facade.New(cfg, uc, holder, kv, n, logger), cleanup, nil
}

func runSearch(cliArgs *config.CLI, cmd *searchCmd) error {
	f, cleanup, err := newFacade(cliArgs)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := f.SearchProcess(ctx, cmd.Tribunal, cmd.Number)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}

	if !cmd.Summarize || len(res.Processes) == 0 {
		return nil
	}
	summary, err := f.Summarize(ctx, res)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, summary)
	return err
}

func runRecent(cliArgs *config.CLI, cmd *recentCmd) error {
	f, cleanup, err := newFacade(cliArgs)
	if err != nil {
		return err
	}
	defer cleanup()

	if cmd.Clear {
		f.ClearRecentSearches()
		return nil
	}
	return printJSON(f.RecentSearches())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
