package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	platformapns "github.com/tinywideclouds/go-apns-client/internal/platform/apns"
	"github.com/tinywideclouds/go-apns-client/pushclient"
	"github.com/tinywideclouds/go-apns-client/pushclient/config"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so that deferred cleanup runs on every
// path before main exits.
func run(args []string) int {
	fs := flag.NewFlagSet("apnspush", flag.ContinueOnError)
	var (
		deviceToken = fs.String("token", "", "device token to push to (required)")
		title       = fs.String("title", "", "alert title")
		body        = fs.String("body", "Hello from apnspush", "alert body")
		topic       = fs.String("topic", "", "apns-topic, overrides the configured topic")
		sound       = fs.String("sound", "", "sound name, e.g. default")
		configPath  = fs.String("config", "", "YAML config file, defaults to the embedded local.yaml")
	)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	if *deviceToken == "" {
		fmt.Fprintln(os.Stderr, "apnspush: -token is required")
		fs.Usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	cfg, err := loadConfig(*configPath, *topic, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		return exitError
	}

	// --- Client ---
	client, err := pushclient.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Client creation failed", "err", err)
		return exitError
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Client close failed", "err", err)
		}
	}()

	dispatcher, err := client.Dispatcher()
	if err != nil {
		logger.Error("Dispatcher creation failed", "err", err)
		return exitError
	}

	// --- Send ---
	receipt, err := dispatcher.Dispatch(ctx, *deviceToken, platformapns.Content{
		Title: *title,
		Body:  *body,
		Sound: *sound,
	}, nil)
	if err != nil {
		logger.Error("Push failed", "receipt", receipt.String(), "err", err)
		return exitError
	}
	if receipt.InvalidToken {
		logger.Warn("Device token is no longer valid", "receipt", receipt.String())
		return exitError
	}
	logger.Info("Push sent", "receipt", receipt.String())
	return exitOK
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "apnspush")
}

// loadConfig reads path, or the embedded local.yaml when path is empty, and
// applies the topic flag and environment overrides.
func loadConfig(path, topic string, logger *slog.Logger) (*config.Config, error) {
	raw := configFile
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		raw = data
	}
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	if topic != "" {
		baseCfg.Topic = topic
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}
