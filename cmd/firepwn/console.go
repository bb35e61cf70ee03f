package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/firepwn/firepwn/internal/tracing"
	"github.com/firepwn/firepwn/pkg/backend"
	"github.com/firepwn/firepwn/pkg/backend/firebase"
	"github.com/firepwn/firepwn/pkg/backend/memory"
	"github.com/firepwn/firepwn/pkg/config"
	"github.com/firepwn/firepwn/pkg/console"
	"github.com/firepwn/firepwn/pkg/observability"
	"github.com/firepwn/firepwn/pkg/oplog"
)

type consoleFlags struct {
	configFile     string
	firebaseConfig string
	descriptor     config.Descriptor
	backend        string
	emulator       string
	metricsPort    int
	traceExporter  string
	noColor        bool
}

func newConsoleCommand() *cobra.Command {
	var f consoleFlags

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Start the interactive console",
		Long: `Start the interactive console.

The target project is taken from the config file, the FIREBASE_* environment
variables, --firebase-config (a file holding the web app's firebaseConfig
object) or the individual descriptor flags, in increasing precedence. When a
descriptor is available the console initializes on start; otherwise use the
"init" command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configFile, "config", "c", getEnv("CONFIG_FILE", ""), "YAML configuration file")
	flags.StringVar(&f.firebaseConfig, "firebase-config", "", "file containing a firebaseConfig object literal")
	flags.StringVar(&f.descriptor.APIKey, "api-key", "", "web API key")
	flags.StringVar(&f.descriptor.AuthDomain, "auth-domain", "", "auth domain")
	flags.StringVar(&f.descriptor.DatabaseURL, "database-url", "", "realtime database URL")
	flags.StringVar(&f.descriptor.ProjectID, "project-id", "", "project ID")
	flags.StringVar(&f.descriptor.StorageBucket, "storage-bucket", "", "storage bucket")
	flags.StringVar(&f.backend, "backend", "firebase", "backend: firebase or memory")
	flags.StringVar(&f.emulator, "emulator", "", "host of a local Firebase emulator suite")
	flags.IntVar(&f.metricsPort, "metrics-port", 0, "serve /metrics and /health on this port (0 disables)")
	flags.StringVar(&f.traceExporter, "trace", "", "trace exporter: none, stdout or otlp")
	flags.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	return cmd
}

// loadConsoleConfig merges the config file, environment and flags.
func loadConsoleConfig(f consoleFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.LoadConfig(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.firebaseConfig != "" {
		data, err := os.ReadFile(f.firebaseConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to read firebase config: %w", err)
		}
		d, err := config.ParseDescriptor(string(data))
		if err != nil {
			return nil, err
		}
		cfg.Firebase = d
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Firebase.APIKey, f.descriptor.APIKey)
	override(&cfg.Firebase.AuthDomain, f.descriptor.AuthDomain)
	override(&cfg.Firebase.DatabaseURL, f.descriptor.DatabaseURL)
	override(&cfg.Firebase.ProjectID, f.descriptor.ProjectID)
	override(&cfg.Firebase.StorageBucket, f.descriptor.StorageBucket)
	override(&cfg.Console.Emulator, f.emulator)
	override(&cfg.Observability.TraceExporter, f.traceExporter)
	if f.metricsPort != 0 {
		cfg.Observability.MetricsPort = f.metricsPort
	}
	if cfg.Console.HistoryFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Console.HistoryFile = filepath.Join(home, ".firepwn_history")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runConsole(ctx context.Context, f consoleFlags) error {
	cfg, err := loadConsoleConfig(f)
	if err != nil {
		return err
	}

	observability.InitMetrics()
	if err := tracing.Init(tracing.Config{
		ExporterType: cfg.Observability.TraceExporter,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		SampleRate:   cfg.Observability.SampleRate,
		Writer:       os.Stderr,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	r := newREPL(line, newRenderer(os.Stdout, !f.noColor), cfg)

	provider, err := buildProvider(f.backend, cfg, r.promptChallengeToken)
	if err != nil {
		return err
	}

	oplogLog := oplog.New()
	unsubscribe := oplogLog.Subscribe(r.render.Entry)
	defer unsubscribe()

	c := console.New(provider, oplogLog, console.OptionsFromConfig(cfg.Console)...)
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("Close error: %v", err)
		}
	}()
	r.c = c

	if cfg.Observability.MetricsPort > 0 {
		checker := observability.NewHealthChecker(Version)
		checker.RegisterCheck(&observability.HealthCheck{
			Name: "session",
			CheckFunc: func(context.Context) error {
				if !c.State().Initialized {
					return errors.New("not initialized")
				}
				return nil
			},
		})
		srv := observability.NewServer(fmt.Sprintf(":%d", cfg.Observability.MetricsPort), checker)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}()
	}

	if cfg.Firebase.APIKey != "" || cfg.Firebase.ProjectID != "" {
		// rejections are already in the log
		_ = c.Initialize(ctx, cfg.Firebase)
	}

	return r.Run(ctx)
}

func buildProvider(kind string, cfg *config.Config, tokens firebase.ChallengeTokenSource) (backend.Provider, error) {
	switch kind {
	case "firebase", "":
		opts := []firebase.Option{
			firebase.WithHTTPClient(&http.Client{Timeout: cfg.Console.HTTPTimeout}),
			firebase.WithChallengeTokens(tokens),
		}
		if cfg.Console.Emulator != "" {
			opts = append(opts, firebase.WithEmulator(cfg.Console.Emulator))
		}
		return firebase.NewProvider(opts...), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
