package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jamesprial/upsmon/internal/auth"
	"github.com/jamesprial/upsmon/internal/command"
	"github.com/jamesprial/upsmon/internal/config"
	"github.com/jamesprial/upsmon/internal/metrics"
	"github.com/jamesprial/upsmon/internal/monitor"
	"github.com/jamesprial/upsmon/internal/mqtt"
	"github.com/jamesprial/upsmon/internal/safety"
	"github.com/jamesprial/upsmon/internal/tools"
	"github.com/jamesprial/upsmon/internal/ups"
	"github.com/jamesprial/upsmon/internal/vm"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor, the auto-shutdown watchdog and the MCP/metrics server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		log.Printf("warning: could not generate auth token: %v; running without authentication", err)
	} else if tokenBefore == "" {
		log.Printf("generated auth token (set UPSMON_AUTH_TOKEN to persist): %s", token)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	latest := monitor.NewLatest()
	collector := metrics.NewCollector()

	sinks := []monitor.Sink{latest, collector}
	dispOpts := []command.Option{command.WithShutdownObserver(collector.ShutdownIntent)}

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Printf("warning: %v; MQTT publishing disabled", err)
		} else {
			defer client.Close()
			pub := mqtt.NewPublisher(client.Native(), mqtt.PublisherConfig{
				TelemetryTopic: cfg.MQTT.TelemetryTopic,
				EventTopic:     cfg.MQTT.EventTopic,
				QoS:            cfg.MQTT.QoS,
				Retain:         cfg.MQTT.Retain,
			})
			go pub.Start(ctx)
			sinks = append(sinks, pub)
			dispOpts = append(dispOpts, command.WithShutdownObserver(pub.ShutdownIntent))
		}
	}

	disp, err := a.dispatcher(dispOpts...)
	if err != nil {
		return err
	}

	monOpts := []monitor.Option{
		monitor.WithSinks(sinks...),
		monitor.WithObservers(latest, collector),
	}
	if cfg.Watchdog.Enabled {
		wd := monitor.NewWatchdog(a.opener, monitor.WatchdogConfig{
			Interval:       cfg.Watchdog.Interval.Std(),
			RetryDelay:     cfg.Watchdog.RetryDelay.Std(),
			BatteryMargin:  cfg.Watchdog.BatteryMargin,
			TelemetryIndex: cfg.Device.Commands.Telemetry,
		}, disp.Shutdown)
		monOpts = append(monOpts, monitor.WithWatchdog(wd))
	} else {
		log.Println("warning: watchdog disabled; the host will not power off on low battery")
	}

	mon := monitor.New(a.opener, a.ref, monitor.Config{
		PollInterval:     cfg.Monitor.PollInterval.Std(),
		RetryInterval:    cfg.Device.RetryInterval.Std(),
		ReconnectBackoff: cfg.Monitor.ReconnectBackoff.Std(),
		TelemetryIndex:   cfg.Device.Commands.Telemetry,
		Thresholds:       cfg.Thresholds,
	}, monOpts...)

	// MCP server.
	mcpServer := server.NewMCPServer("upsmon", version, server.WithToolCapabilities(false))
	confirm := safety.NewConfirmationTracker(ups.DestructiveTools)

	registrations := ups.UPSTools(latest, disp, confirm, a.audit)
	if a.vmMgr != nil {
		registrations = append(registrations, vm.VMTools(a.vmMgr, a.drainer, a.vmFilter, a.audit)...)
	}
	tools.RegisterAll(mcpServer, registrations)

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/healthz", latest)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           auth.NewAuthMiddleware(cfg.Server.AuthToken, "/healthz")(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("upsmon listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}

	if err := <-monDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("monitor stopped: %v", err)
	}
	log.Println("server stopped")
	return nil
}
