package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"uwblink/internal/ble"
	"uwblink/internal/config"
	"uwblink/internal/console"
	"uwblink/internal/db"
	"uwblink/internal/db/migrate"
	"uwblink/internal/httpapi"
	"uwblink/internal/journal"
	"uwblink/internal/mqtt"
	"uwblink/internal/session"
	"uwblink/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Run wires the journal, MQTT publisher, BLE link and optional serial
// console monitor, and blocks until ctx is done and every subsystem has
// returned. hexOut receives the "TX: "/"RX: " frame lines.
func Run(ctx context.Context, cfg config.Config, hexOut io.Writer) error {
	slog.Info("initializing uwblink",
		"accessory", cfg.AccessoryName,
		"ble_adapter", cfg.BLEAdapter,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"sqlite_path", cfg.SQLitePath,
		"serial_port", cfg.SerialPort,
	)
	if hexOut != nil {
		utils.Console = hexOut
	}

	conn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			slog.Error("db close", "err", err)
		}
	}()

	applied, err := migrate.Run(conn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("migrations applied", "versions", applied)
	}
	repo := journal.NewRepository(conn)

	mqttClient := mqtt.NewClient(cfg, slog.Default())
	go func() {
		// Connect retries with backoff; publishing before it succeeds is
		// logged and dropped.
		if err := mqttClient.Connect(ctx); err != nil {
			slog.Error("mqtt connect failed", "error", err)
		}
	}()
	defer mqttClient.Disconnect()

	link, err := ble.NewLink(ble.Options{
		Adapter:     cfg.BLEAdapter,
		LocalName:   cfg.BLELocalName,
		ScanTimeout: cfg.BLEScanTimeout,
	})
	if err != nil {
		return err
	}

	// Deferred closes of the database and MQTT client run only after wg.Wait.
	var wg sync.WaitGroup

	if cfg.SerialPort != "" {
		monitor := console.NewMonitor(cfg.SerialPort, cfg.SerialBaud, cfg.AccessoryName, repo, slog.Default())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Run(ctx); err != nil {
				slog.Warn("serial console monitor stopped; continuing without it", "error", err)
			}
		}()
	}

	controller := session.NewController(session.Options{
		Accessory:       cfg.AccessoryName,
		ShareableConfig: cfg.ShareableConfig,
		Transport:       link,
		Publisher:       mqttClient,
		Journal:         repo,
		Logger:          slog.Default(),
	})

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(conn, cfg.AccessoryName, repo, controller))
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("http server stopped; continuing without status api", "error", err)
			}
		}()
	}

	// The link stops a ranging accessory through controller.Shutdown before
	// it disconnects.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Run(ctx, controller); err != nil {
			slog.Warn("ble link could not be initialized; uwblink continues without BLE",
				"error", err,
			)
		}
	}()
	<-ctx.Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}

	wg.Wait()
	slog.Info("uwblink shutting down")
	return nil
}
