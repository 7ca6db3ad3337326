package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/worldland/miner-fleet/internal/adapters/minerapi"
	"github.com/worldland/miner-fleet/internal/api"
	"github.com/worldland/miner-fleet/internal/auth"
	"github.com/worldland/miner-fleet/internal/clock"
	"github.com/worldland/miner-fleet/internal/config"
	"github.com/worldland/miner-fleet/internal/console"
	"github.com/worldland/miner-fleet/internal/events"
	"github.com/worldland/miner-fleet/internal/fleet"
	"github.com/worldland/miner-fleet/internal/history"
	"github.com/worldland/miner-fleet/internal/logging"
	"github.com/worldland/miner-fleet/internal/schedule"
	"github.com/worldland/miner-fleet/internal/services"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		devices     []string
		apiURL      string
		listen      string
		noConsole   bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("minerctl", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringArrayVar(&devices, "device", nil, "miner IP to manage at startup (repeatable, replaces fleet.devices)")
	flagSet.StringVar(&apiURL, "api-url", "", "miner control API base URL")
	flagSet.StringVar(&listen, "listen", "", "HTTP console listen address (e.g. :8080)")
	flagSet.BoolVar(&noConsole, "no-console", false, "disable the interactive console")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("minerctl %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("device") {
		cfg.Fleet.Devices = devices
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if listen != "" {
		cfg.Console.Listen = listen
	}
	if noConsole {
		cfg.Console.Interactive = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("minerctl starting", "api", cfg.API.BaseURL, "devices", len(cfg.Fleet.Devices), "timezone", loc.String())

	clk := clock.Real()
	client := minerapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout, minerapi.RetryPolicy{
		MaxAttempts:     cfg.API.Retry.MaxAttempts,
		InitialInterval: cfg.API.Retry.InitialInterval,
		MaxInterval:     cfg.API.Retry.MaxInterval,
	})

	registry := fleet.NewRegistry()
	ledger := auth.NewLedger(client, clk, loc)
	operator := fleet.NewOperator(registry, ledger, client, clk, cfg.API.Timeout, logger)
	scheduler := schedule.NewScheduler(registry, operator, clk, loc, logger)
	controller := services.NewFleetController(registry, ledger, operator, scheduler, cfg.API.Timeout, logger)

	// Observers are optional; an unreachable broker or database only costs the feed
	if cfg.MQTT.Enabled {
		mqttClient, err := events.Connect(cfg.MQTT)
		if err != nil {
			logger.Warn("MQTT unavailable, state events disabled", "error", err)
		} else {
			defer mqttClient.Close()
			publisher := events.NewPublisher(mqttClient, registry, events.Topics{Prefix: cfg.MQTT.TopicPrefix}, byte(cfg.MQTT.QoS), logger)
			operator.AddObserver(publisher)
			controller.OnRemove(publisher.Clear)
			logger.Info("publishing state events", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
		}
	}
	if cfg.InfluxDB.Enabled {
		influx, err := history.Connect(cfg.InfluxDB, func(err error) {
			logger.Warn("history write failed", "error", err)
		})
		if err != nil {
			logger.Warn("InfluxDB unavailable, transition history disabled", "error", err)
		} else {
			defer influx.Close()
			operator.AddObserver(history.NewRecorder(influx.WriteAPI()))
			logger.Info("recording transition history", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx, cfg.Fleet.Devices); err != nil {
		return err
	}

	var server *http.Server
	if cfg.Console.Listen != "" {
		mux := http.NewServeMux()
		api.NewDeviceHandler(controller, scheduler).Register(mux)
		server = &http.Server{
			Addr:              cfg.Console.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP console listening", "addr", cfg.Console.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP console failed", "error", err)
				cancel()
			}
		}()
	}

	consoleDone := make(chan struct{})
	if cfg.Console.Interactive {
		c := console.New(controller, scheduler, os.Stdin, os.Stdout, logger)
		go func() {
			defer close(consoleDone)
			if err := c.Run(ctx); err != nil {
				logger.Warn("console input failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-consoleDone:
		logger.Info("console closed")
	case <-ctx.Done():
	}

	cancel()
	controller.Stop()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP console shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
