package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/oidc-session/pkg/auth"
	"github.com/telekom/oidc-session/pkg/codec"
	"github.com/telekom/oidc-session/pkg/config"
	"github.com/telekom/oidc-session/pkg/output"
	"github.com/telekom/oidc-session/pkg/system"
	"github.com/telekom/oidc-session/pkg/telemetry"
	"github.com/telekom/oidc-session/pkg/version"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// OpenBrowser defaults to browser.OpenURL.
	OpenBrowser func(url string) error
	// ManagerOptions are appended to the options derived from the config file.
	ManagerOptions []auth.Option
}

type runtimeState struct {
	configPath        string
	cfg               *config.Config
	sessionFile       string
	keySourceOverride string
	outputFormat      string
	metricsAddr       string
	traceExporter     string
	otlpEndpoint      string
	stopTracing       telemetry.ShutdownFunc
	verbose           bool
	writer            io.Writer
	log               *zap.SugaredLogger
	openBrowser       func(string) error
	managerOptions    []auth.Option
	store             *auth.TokenStore
	stopMetricsServer func()
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		OpenBrowser:  browser.OpenURL,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:     cfg.ConfigPath,
		writer:         cfg.OutputWriter,
		openBrowser:    cfg.OpenBrowser,
		managerOptions: cfg.ManagerOptions,
	}

	root := &cobra.Command{
		Use:           "oidc-session",
		Short:         "Desktop OIDC login with a local callback listener",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.openBrowser == nil {
				rt.openBrowser = browser.OpenURL
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("OIDC_SESSION_OUTPUT")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("OIDC_SESSION_VERBOSE"), "true")
			}
			logger, err := system.NewLogger(rt.verbose)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			rt.log = logger.Sugar()
			if rt.traceExporter == "" {
				rt.traceExporter = os.Getenv("OIDC_SESSION_TRACE_EXPORTER")
			}
			if rt.otlpEndpoint == "" {
				rt.otlpEndpoint = os.Getenv("OIDC_SESSION_OTLP_ENDPOINT")
			}
			_, shutdown, err := telemetry.Init(cmd.Context(), telemetry.Options{
				Exporter:       rt.traceExporter,
				Endpoint:       rt.otlpEndpoint,
				ServiceVersion: version.GetBuildInfo().Version,
				Logger:         rt.log,
			})
			if err != nil {
				return err
			}
			rt.stopTracing = shutdown

			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if err := rt.loadConfig(); err != nil {
				return err
			}
			if rt.metricsAddr != "" {
				stop, err := startMetricsServer(rt.metricsAddr, rt.log)
				if err != nil {
					return err
				}
				rt.stopMetricsServer = stop
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt.stopTracing != nil {
				if err := rt.stopTracing(context.WithoutCancel(cmd.Context())); err != nil {
					rt.Logger().Warnw("Failed to flush traces", "error", err)
				}
			}
			if rt.stopMetricsServer != nil {
				rt.stopMetricsServer()
			}
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.sessionFile, "session-file", "", "Path to the encrypted session file")
	root.PersistentFlags().StringVar(&rt.keySourceOverride, "key-source", "", "Session key source: host or keychain")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	root.PersistentFlags().StringVar(&rt.traceExporter, "trace-exporter", "", "Trace exporter: none, stdout or otlp")
	root.PersistentFlags().StringVar(&rt.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector endpoint for --trace-exporter=otlp")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewLoginCommand(),
		NewRefreshCommand(),
		NewStatusCommand(),
		NewLogoutCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// loadConfig reads the config file. A missing file is tolerated when the
// environment supplies the provider settings.
func (rt *runtimeState) loadConfig() error {
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		defaults := config.DefaultConfig()
		cfg = &defaults
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if rt.keySourceOverride != "" {
		cfg.Session.KeySource = rt.keySourceOverride
	}
	if rt.sessionFile != "" {
		cfg.Session.File = rt.sessionFile
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	return zap.NewNop().Sugar()
}

func (rt *runtimeState) SessionPath() string {
	if rt.cfg == nil {
		return config.DefaultSessionPath()
	}
	return rt.cfg.SessionPath()
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

// TokenStore builds the session store from the configured key source.
func (rt *runtimeState) TokenStore() (*auth.TokenStore, error) {
	if rt.store != nil {
		return rt.store, nil
	}
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	src, err := rt.cfg.KeySource()
	if err != nil {
		return nil, err
	}
	c, err := codec.NewCodec(src)
	if err != nil {
		return nil, err
	}
	rt.store = auth.NewTokenStore(c, rt.Logger())
	return rt.store, nil
}

// NewManager returns a manager with the stored session, if any, loaded.
func (rt *runtimeState) NewManager() (*auth.Manager, bool, error) {
	if rt.cfg == nil {
		return nil, false, errors.New("config not loaded")
	}
	clientCfg, err := rt.cfg.ClientConfiguration()
	if err != nil {
		return nil, false, err
	}
	store, err := rt.TokenStore()
	if err != nil {
		return nil, false, err
	}
	opts := []auth.Option{auth.WithLogger(rt.Logger()), auth.WithStore(store)}
	httpClient, err := rt.cfg.HTTPClient()
	if err != nil {
		return nil, false, err
	}
	if httpClient != nil {
		opts = append(opts, auth.WithHTTPClient(httpClient))
	}
	opts = append(opts, rt.managerOptions...)
	m, err := auth.NewManager(clientCfg, opts...)
	if err != nil {
		return nil, false, err
	}
	loaded, err := m.LoadFromFile(rt.SessionPath())
	if err != nil {
		return nil, false, err
	}
	return m, loaded, nil
}
