package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/api"
	"github.com/freewebtopdf/upnet/internal/config"
	"github.com/freewebtopdf/upnet/internal/health"

	docs "github.com/freewebtopdf/upnet/docs"
)

// @title upnet Release Server API
// @version 1.0
// @description Serves an update manifest and its content-addressed files to upnet clients

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http https

// @tag.name Releases
// @tag.description Manifest and content distribution

// @tag.name System
// @tag.description System health operations

type options struct {
	HealthCheck bool `long:"health-check" description:"Perform health check and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.HealthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	setupLogger(cfg)

	docs.SwaggerInfo.Host = os.Getenv("DOMAIN")

	log.Info().Msg("upnet release server starting...")
	logStartupConfig(cfg)

	router := newRouter(afero.NewOsFs(), cfg)
	router.App.Server().ReadTimeout = cfg.Server.ReadTimeout
	router.App.Server().WriteTimeout = cfg.Server.WriteTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("addr", serverAddr).
		Msg("Starting HTTP server")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- router.App.Listen(serverAddr)
	}()

	select {
	case err := <-listenErr:
		router.Cleanup()
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	case <-ctx.Done():
	}

	log.Info().Msg("Received shutdown signal, initiating graceful shutdown")
	shutdown(router, cfg.Server.ShutdownTimeout)
	log.Info().Msg("Graceful shutdown completed")
}

// newRouter serves cfg.Server.Root with the manifest named by cfg.Server.ManifestName
func newRouter(fsys afero.Fs, cfg *config.Config) *api.RouterResult {
	manifestPath := filepath.Join(cfg.Server.Root, cfg.Server.ManifestName)
	checker := health.NewPublishChecker(fsys, cfg.Server.Root, manifestPath, 10*time.Second)

	return api.SetupRouter(api.RouterDependencies{
		Fs:            fsys,
		HealthChecker: checker,
	}, api.RouterConfig{
		Root:           cfg.Server.Root,
		ManifestPath:   manifestPath,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
}

func shutdown(router *api.RouterResult, timeout time.Duration) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Msg("Stopping HTTP server...")
	if err := router.App.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during HTTP server shutdown")
	}
	router.Cleanup()
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	switch cfg.Logging.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.Logging.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func logStartupConfig(cfg *config.Config) {
	log.Info().
		Int("server_port", cfg.Server.Port).
		Dur("server_read_timeout", cfg.Server.ReadTimeout).
		Dur("server_write_timeout", cfg.Server.WriteTimeout).
		Str("server_root", cfg.Server.Root).
		Str("server_manifest", cfg.Server.ManifestName).
		Int("rate_limit_rps", cfg.Server.RateLimitRPS).
		Int("rate_limit_burst", cfg.Server.RateLimitBurst).
		Dur("shutdown_timeout", cfg.Server.ShutdownTimeout).
		Strs("cors_origins", cfg.Server.CORSOrigins).
		Str("logging_level", cfg.Logging.Level).
		Str("logging_format", cfg.Logging.Format).
		Msg("Configuration loaded successfully")
}

func performHealthCheck() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{
		Timeout: 3 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
