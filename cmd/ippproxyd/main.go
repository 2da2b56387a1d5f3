// Command ippproxyd is the external collaborator spec §6 describes: it
// resolves a configured context (YAML file layered under CLI flags),
// builds a password supplier, and runs the core proxy until a shutdown
// signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cyra/ippproxyd/internal/proxy"
)

// Version information (set at build time).
var (
	version = "dev"
	commit  = "unknown"
)

// ConfigFile is the YAML configuration file shape, mirroring the teacher's
// ConfigFile/applyFileConfig layering pattern.
type ConfigFile struct {
	Infrastructure struct {
		URI string `yaml:"uri"`
	} `yaml:"infrastructure"`

	Device struct {
		URI             string `yaml:"uri"`
		PreferredFormat string `yaml:"preferred_format"`
	} `yaml:"device"`

	Auth struct {
		Username    string `yaml:"username"`
		PasswordEnv string `yaml:"password_env"`
	} `yaml:"auth"`

	Poll struct {
		FloorSeconds   int `yaml:"floor_seconds"`
		CeilingSeconds int `yaml:"ceiling_seconds"`
	} `yaml:"poll"`

	Worker struct {
		IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	} `yaml:"worker"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func main() {
	var (
		configPath        = flag.String("config", "/etc/ippproxyd/ippproxyd.yaml", "path to config file")
		infraURI          = flag.String("infrastructure-uri", "", "infrastructure printer URI")
		deviceURI         = flag.String("device-uri", "", "local device URI (ipp(s):// or socket://)")
		preferredFormat   = flag.String("preferred-format", "", "override document-format-accepted")
		username          = flag.String("username", "", "requesting-user-name for infrastructure requests")
		passwordEnv       = flag.String("password-env", "", "environment variable carrying the auth password")
		logLevel          = flag.String("log-level", "", "log level: debug, info, warn, error")
		logFormat         = flag.String("log-format", "", "log format: json, console")
		verbose           = flag.Bool("verbose", false, "set the config's verbose mode (no IPP session reads it; no request/response dump is produced)")
		showVersion       = flag.Bool("version", false, "show version and exit")
		listJobs          = flag.Bool("list-jobs", false, "connect, print the job table snapshot, and exit")
		listSubscriptions = flag.Bool("list-subscriptions", false, "connect, print the active subscription id, and exit")
		serviceCmd        = flag.String("service", "", "service control: install, uninstall, start, stop, run")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ippproxyd version %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	level, format := *logLevel, *logFormat
	cfg := proxy.DefaultConfig()
	if fileCfg, err := loadConfig(*configPath); err == nil {
		applyFileConfig(&cfg, fileCfg)
		if level == "" {
			level = fileCfg.Log.Level
		}
		if format == "" {
			format = fileCfg.Log.Format
		}
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load config file: %v\n", err)
	}

	if *infraURI != "" {
		cfg.InfrastructureURI = *infraURI
	}
	if *deviceURI != "" {
		cfg.DeviceURI = *deviceURI
	}
	if *preferredFormat != "" {
		cfg.PreferredOutputFormat = *preferredFormat
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *passwordEnv != "" {
		cfg.Password = envPassword(*passwordEnv)
	}
	cfg.Verbose = cfg.Verbose || *verbose

	if cfg.DeviceURI == "" {
		fmt.Fprintln(os.Stderr, "error: -device-uri (or device.uri in the config file) is required")
		os.Exit(1)
	}

	log := newLogger(level, format)

	if *listJobs || *listSubscriptions {
		if err := runIntrospection(context.Background(), cfg, log, *listJobs, *listSubscriptions); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *serviceCmd != "" {
		handleServiceCommand(*serviceCmd, cfg, log)
		return
	}

	if err := runCore(context.Background(), cfg, log); err != nil {
		log.Error().Err(err).Msg("ippproxyd exiting on registration failure")
		os.Exit(1)
	}
}

func loadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func applyFileConfig(cfg *proxy.Config, fileCfg *ConfigFile) {
	if fileCfg.Infrastructure.URI != "" {
		cfg.InfrastructureURI = fileCfg.Infrastructure.URI
	}
	if fileCfg.Device.URI != "" {
		cfg.DeviceURI = fileCfg.Device.URI
	}
	if fileCfg.Device.PreferredFormat != "" {
		cfg.PreferredOutputFormat = fileCfg.Device.PreferredFormat
	}
	if fileCfg.Auth.Username != "" {
		cfg.Username = fileCfg.Auth.Username
	}
	if fileCfg.Auth.PasswordEnv != "" {
		cfg.Password = envPassword(fileCfg.Auth.PasswordEnv)
	}
	if fileCfg.Poll.FloorSeconds != 0 {
		cfg.PollIntervalFloor = time.Duration(fileCfg.Poll.FloorSeconds) * time.Second
	}
	if fileCfg.Poll.CeilingSeconds != 0 {
		cfg.PollIntervalCeiling = time.Duration(fileCfg.Poll.CeilingSeconds) * time.Second
	}
	if fileCfg.Worker.IdleTimeoutSeconds != 0 {
		cfg.WorkerIdleTimeout = time.Duration(fileCfg.Worker.IdleTimeoutSeconds) * time.Second
	}
	if fileCfg.Log.Level == "debug" {
		cfg.Verbose = true
	}
}

// envPassword builds the password supplier spec §6 requires: a callback
// resolved once per call from an environment variable, never cached beyond
// the call (spec §6: "does not cache credentials beyond the lifetime of a
// single request-response").
func envPassword(envVar string) proxy.PasswordFunc {
	return func(realm, resource string) (string, error) {
		return os.Getenv(envVar), nil
	}
}

func newLogger(level, format string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}
