package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/authgate/internal/app"
	"github.com/florianilch/authgate/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "authgate",
		Usage: "OAuth2 login and authenticated requests for a single-page app backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigTelemetryExporter),
			},
			&cli.StringFlag{
				Name:  "storage--type",
				Usage: "session storage (file|keyring|sqlite|memory|env)",
				Value: string(app.DefaultConfigStorageType),
			},
			&cli.StringFlag{
				Name:  "storage--dir",
				Usage: "directory for file storage",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			loginCommand(),
			logoutCommand(),
			statusCommand(),
			requestCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

// serverFlags are shared by the commands that host the login pages.
func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "server--host",
			Usage: "server host",
			Value: app.DefaultConfigServerHost,
		},
		&cli.IntFlag{
			Name:  "server--port",
			Usage: "server port",
			Value: int(app.DefaultConfigServerPort),
		},
		&cli.StringFlag{
			Name:  "identity-provider--base-url",
			Usage: "identity provider base URL, e.g. https://auth.example.com",
		},
		&cli.StringFlag{
			Name:  "identity-provider--client-id",
			Usage: "OAuth2 client identifier",
		},
		&cli.StringFlag{
			Name:  "identity-provider--redirect-uri",
			Usage: "redirect URI registered with the identity provider (defaults to the local callback)",
		},
		&cli.StringFlag{
			Name:  "backend--verify-endpoint",
			Usage: "backend endpoint exchanging an authorization code for an access token",
		},
		&cli.StringFlag{
			Name:  "backend--api-base-url",
			Usage: "protected API proxied under /api/",
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "host the login pages and the authenticated API proxy",
		Flags:  serverFlags(),
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads configuration and installs logging. The returned cleanup
// flushes buffered log records.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(), error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.Telemetry.Exporter))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	cleanup := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		_ = shutdown(flushCtx)
	}
	return cfg, cleanup, nil
}
