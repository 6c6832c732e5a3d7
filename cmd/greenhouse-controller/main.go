package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/api"
	"github.com/thatsimonsguy/greenhouse-controller/internal/commander"
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/controller"
	"github.com/thatsimonsguy/greenhouse-controller/internal/datadog"
	"github.com/thatsimonsguy/greenhouse-controller/internal/dispatcher"
	"github.com/thatsimonsguy/greenhouse-controller/internal/env"
	"github.com/thatsimonsguy/greenhouse-controller/internal/logging"
	"github.com/thatsimonsguy/greenhouse-controller/internal/notifications"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/sensors"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
	"github.com/thatsimonsguy/greenhouse-controller/internal/transport"
	"github.com/thatsimonsguy/greenhouse-controller/system/shutdown"
	"github.com/thatsimonsguy/greenhouse-controller/system/startup"
)

func main() {
	cfg := config.Load()
	env.Cfg = &cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)
	datadog.InitMetrics()
	defer datadog.Close()

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("store", cfg.Store.Backend).
		Msg("Starting greenhouse controller")

	conn, err := db.Open(cfg.Store.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.DBPath).Msg("Failed to open database")
	}
	defer conn.Close()

	ts, err := store.Open(store.Config{
		Backend: cfg.Store.Backend,
		Influx: store.InfluxConfig{
			URL:      cfg.Store.Influx.URL,
			Token:    cfg.Store.Influx.Token,
			Org:      cfg.Store.Influx.Org,
			Bucket:   cfg.Store.Influx.Bucket,
			Lookback: cfg.Store.Influx.Lookback,
		},
	}, conn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open time-series store")
	}
	defer ts.Close()

	tr, err := transport.Open(cfg.TransportOptions())
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Modbus.URL).Msg("Failed to connect to actuator node")
	}
	defer tr.Close()

	notifier := notifications.NewNtfy(cfg.NtfyURL, cfg.NtfyTopic)
	journal := db.Journal{Conn: conn}

	// Commands, status reads and sensor reads all share the commander's channel lock.
	cmdr := commander.New(tr, protocol.NewSequencer(0), commander.Config{
		StatusBase:  cfg.Protocol.StatusBase,
		CommandBase: cfg.Protocol.CommandBase,
		Settle:      cfg.Protocol.Settle,
		CallTimeout: cfg.Modbus.Timeout,
	})

	ctrl := controller.New(controller.Deps{
		Registry:   cfg.Registry(),
		Commander:  cmdr,
		Dispatcher: dispatcher.New(cfg.Protocol.MaxRetries, cfg.Protocol.Backoff),
		Store:      ts,
		Journal:    journal,
		Notifier:   notifier,
	}, controller.Config{
		BusyWait:           cfg.Protocol.BusyWait,
		ResetMarginSeconds: cfg.Protocol.ResetMarginSeconds,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := startup.ReportUnfinished(ctx, journal); err != nil {
		log.Warn().Err(err).Msg("Failed to check command journal")
	}

	var opts []api.Option
	if cfg.LegacyStatusNames {
		opts = append(opts, api.WithLegacyNames())
	}
	server := api.NewServer(ctrl, cfg.CORSOrigins, opts...)
	sampler := sensors.NewSampler(cmdr, ts, notifier, cfg.Sensors)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.ListenAddr) })
	g.Go(func() error { return sampler.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdown.ShutdownWithError(ctrl, err, "Greenhouse controller failed")
	}
	log.Info().Msg("Greenhouse controller stopped")
}
