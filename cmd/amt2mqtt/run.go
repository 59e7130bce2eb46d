package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daemonp/amt2mqtt/internal/cache"
	"github.com/daemonp/amt2mqtt/internal/config"
	"github.com/daemonp/amt2mqtt/internal/control"
	"github.com/daemonp/amt2mqtt/internal/homeassistant"
	"github.com/daemonp/amt2mqtt/internal/log"
	"github.com/daemonp/amt2mqtt/internal/mqtt"
	"github.com/daemonp/amt2mqtt/internal/panel"
)

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (default)",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
}

func listenStop() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger := log.NewLogger(cfg.Log)

	backend, err := panel.NewBackend(&cfg.AMT, logger)
	if err != nil {
		return err
	}
	p := panel.NewPanel(cfg, backend, logger.With("panel"))

	store := loadCache(cfg, p, logger)

	mqttClient := mqtt.NewMQTT(&cfg.MQTT, p, logger.With("mqtt"))
	if cfg.HomeAssistant.Discovery {
		ha := homeassistant.New(cfg, mqttClient, p, logger.With("homeassistant"))
		mqttClient.OnConnect(ha.Start)
		p.AddListener(ha.OnStatus)
	}
	if err := mqttClient.Connect(); err != nil {
		return err
	}
	defer mqttClient.Close()

	ctx, stop := listenStop()
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(ctx)
	})
	if cfg.Control.Enabled {
		srv := control.NewServer(cfg.Control.Host, cfg.Control.Port, p, logger.With("control"))
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		return nil
	})

	err = g.Wait()

	if store != nil {
		if err := store.Save(p.GetCacheableData()); err != nil {
			logger.Warning("Failed to save cache: %v", err)
		} else {
			logger.Info("Saved data to cache")
		}
	}
	return err
}

func loadCache(cfg *config.Config, p *panel.Panel, logger *log.Logger) *cache.Cache {
	if !cfg.Cache {
		return nil
	}
	store, err := cache.New()
	if err != nil {
		logger.Warning("Cache disabled: %v", err)
		return nil
	}
	data, err := store.Load()
	switch {
	case err != nil:
		logger.Warning("Failed to load cache, discarding it: %v", err)
		if err := store.Delete(); err != nil {
			logger.Warning("Failed to delete cache: %v", err)
		}
	case data != nil:
		p.SetCachedData(data)
		logger.Info("Loaded data from cache")
	}
	return store
}
