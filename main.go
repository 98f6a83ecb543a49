package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/eddielth/serial-bridge/bridge"
	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
	"github.com/eddielth/serial-bridge/mqtt"
	"github.com/eddielth/serial-bridge/storage"
	"github.com/eddielth/serial-bridge/transformer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "serial-bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlagSet("serial-bridge")
	if err := flags.Parse(args); err != nil {
		return err
	}
	configPath, _ := flags.GetString("config")

	loader, err := config.NewLoader(configPath, flags)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	printBanner(cfg)

	transformers, err := transformer.NewManager(cfg.Transformers)
	if err != nil {
		return fmt.Errorf("init transformers: %w", err)
	}

	store, err := storage.NewFromConfig(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	var archiver *storage.Archiver
	if store.Len() > 0 {
		archiver = storage.NewArchiver(store)
	}

	client, err := mqtt.NewClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("init MQTT client: %w", err)
	}
	defer client.Close()

	b := bridge.New(bridge.Options{
		Session:              client,
		Device:               cfg.Serial.Port,
		Baud:                 cfg.Serial.Baud,
		SerialReconnectDelay: cfg.SerialReconnectDelay(),
		MQTTReconnectDelay:   cfg.MQTTReconnectDelay(),
		AnemometerFilter:     cfg.AnemometerFilter(),
		Transformer:          transformers,
		Archiver:             archiver,
	})
	defer b.Handle().Clear()

	if _, err := os.Stat(configPath); err == nil {
		err = loader.WatchConfig(func(newCfg *config.Config) error {
			logger.Info("applying changed configuration")
			b.SetAnemometerFilter(newCfg.AnemometerFilter())
			if err := transformers.Sync(newCfg.Transformers); err != nil {
				return err
			}
			logger.Info("serial and MQTT settings take effect after restart")
			return nil
		})
		if err != nil {
			logger.Warn("failed to watch config file: %v", err)
		} else {
			logger.Info("watching %s for changes", configPath)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("bridge started")
	b.Run(ctx)
	logger.Info("bridge stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	logger.Info("==============================")
	logger.Info("Serial <-> MQTT bridge")
	logger.Info("  serial port:      %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud)
	logger.Info("  MQTT broker:      %s:%d (client id %q)", cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.ClientID)
	logger.Info("  anemometer filter: %s", cfg.AnemometerFilter())
	logger.Info("  reconnect delays: serial %s, MQTT %s", cfg.SerialReconnectDelay(), cfg.MQTTReconnectDelay())
	logger.Info("  transformers:     %d", len(cfg.Transformers))
	logger.Info("==============================")
}
