package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekeeperhq/gatekeeper/internal/abuse"
	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/counter"
	"github.com/gatekeeperhq/gatekeeper/internal/pipeline"
	"github.com/gatekeeperhq/gatekeeper/internal/ratelimit"
	"github.com/gatekeeperhq/gatekeeper/internal/server"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/usage"
)

const banner = `
  ___   _ _____ ___ _  _____ ___ ___ ___ ___
 / __| /_\_   _| __| |/ / __| __| _ \ __| _ \
| (_ |/ _ \| | | _|| ' <| _|| _||  _/ _||  _/
 \___/_/ \_\_| |___|_|\_\___|___|_| |___|_|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long:  "Start the HTTP server that admits, rate-limits, and records API traffic.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	switch settings.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx := context.Background()

	// 1. Durable store for tenants, keys, admins, and usage records.
	st, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", settings.Store.Driver)

	// 2. Counter and blocklist backends.
	var (
		counters counter.Store
		blocks   blocklist.List
	)
	switch settings.Backend.Kind {
	case "redis":
		counters, err = counter.NewRedis(ctx, settings.Backend.RedisAddr, settings.Backend.RedisDB)
		if err != nil {
			return fmt.Errorf("connect counter backend: %w", err)
		}
		rb, err := blocklist.NewRedis(ctx, settings.Backend.RedisAddr, settings.Backend.RedisDB)
		if err != nil {
			counters.Close()
			return fmt.Errorf("connect blocklist backend: %w", err)
		}
		defer rb.Close()
		blocks = rb
	default:
		counters = counter.NewMemory()
		blocks = blocklist.NewMemory()
		logger.Warn("memory backend selected; counters and blocks are per-process")
	}
	defer counters.Close()
	logger.Info("backend initialized", "kind", settings.Backend.Kind)

	// 3. Admission components.
	monitor := abuse.NewMonitor(counters, blocks, abuse.Config{
		Threshold: settings.Abuse.Threshold,
		Window:    settings.Abuse.Window,
		BlockTTL:  settings.Abuse.BlockTTL,
	}, logger)
	guard := service.NewAuthGuard(st, monitor, logger)

	var limiterOpts []ratelimit.Option
	if settings.Limits.FailOpen {
		limiterOpts = append(limiterOpts, ratelimit.FailOpen())
	}
	limiter := ratelimit.New(counters, logger, limiterOpts...)

	recorder := usage.NewRecorder(st, logger, 0)
	defer recorder.Close()
	aggregator := usage.NewAggregator(st)

	pipe := pipeline.New(blocks, guard, limiter, monitor, recorder, pipeline.Config{
		AllowAnonymous:    settings.Limits.AllowAnonymous,
		AnonLimit:         settings.Limits.AnonLimit,
		AnonWindowSeconds: settings.Limits.AnonWindowSeconds,
		IPLimit:           settings.Limits.IPLimit,
		IPWindowSeconds:   settings.Limits.IPWindowSeconds,
		FailOpen:          settings.Limits.FailOpen,
		BlockedStatus:     settings.Limits.BlockedStatus,
	}, logger)

	// 4. Operator sessions.
	jwtSecret := settings.Auth.JWTSecret
	if jwtSecret == "" {
		// Random per-process secret: sessions won't survive a restart and
		// won't be shared across replicas.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		jwtSecret = hex.EncodeToString(buf)
		logger.Warn("auth.jwt_secret not set, using an ephemeral secret")
	}
	adminAuth := service.NewAdminAuth(st, jwtSecret, settings.Auth.TokenTTL)

	hasAdmin, err := st.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin accounts", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: gatekeeper admin create")
	}

	// 5. HTTP server.
	srvCfg := server.DefaultConfig()
	srvCfg.Host = settings.Server.Host
	srvCfg.Port = settings.Server.Port
	srvCfg.CORSOrigins = settings.Server.CORSOrigins

	srv, err := server.New(srvCfg, st, counters, blocks, pipe, adminAuth, aggregator, logger)
	if err != nil {
		return err
	}

	fmt.Printf("→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Gateway:  http://%s:%d/api/\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
