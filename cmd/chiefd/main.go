package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "chieftain/configs"
	"chieftain/pkg/api"
	"chieftain/pkg/election"
	"chieftain/pkg/logger"
	tracing "chieftain/pkg/observability"
	"chieftain/pkg/transport"
	"chieftain/pkg/transport/amqp"
	"chieftain/pkg/transport/memory"
	"chieftain/pkg/transport/redis"
)

func main() {
	cfg := config.LoadConfig()

	zl, err := logger.Init(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "chieftain",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerCfg := tracing.DefaultConfig("chieftain")
	tracerCfg.Enabled = cfg.TracingEnabled
	tracerCfg.Endpoint = cfg.OTLPEndpoint
	tracer, err := tracing.Init(ctx, tracerCfg)
	if err != nil {
		zl.Fatal("failed to initialize tracing", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	connector, err := buildConnector(cfg)
	if err != nil {
		zl.Fatal("failed to initialize transport", zap.String("transport", cfg.Transport), zap.Error(err))
	}
	zl.Info("transport ready", zap.String("transport", cfg.Transport))

	elector := election.New(connector, election.Config{
		Channel:           cfg.ChannelName,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ElectionTimeout:   cfg.ElectionTimeout,
	})

	// Periodic work that must run on exactly one node of the channel. The
	// cron runner only exists while this node holds the chief role.
	var chiefCron *cron.Cron
	elector.RegisterExclusive(
		func() {
			chiefCron = cron.New()
			chiefCron.AddFunc("@every 30s", func() {
				zl.Info("chief tick", zap.String("node", elector.ID()))
			})
			chiefCron.Start()
			zl.Info("chief duties started")
		},
		func() {
			if chiefCron != nil {
				chiefCron.Stop()
				chiefCron = nil
			}
			zl.Info("chief duties stopped")
		},
	)

	elector.SubscribeStateChange(func(newState, oldState election.State) {
		zl.Info("state changed",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()),
			zap.String("chief_id", elector.ChiefID()),
		)
	})
	elector.SubscribeData(func(payload json.RawMessage) {
		zl.Info("data received", zap.ByteString("payload", payload))
	})

	if err := elector.Start(); err != nil {
		zl.Fatal("failed to start elector", zap.Error(err))
	}
	zl.Info("elector started",
		zap.String("id", elector.ID()),
		zap.String("channel", cfg.ChannelName),
	)

	server := api.NewServer(api.Config{
		Port:    cfg.APIPort,
		APIKey:  cfg.APIKey,
		Elector: elector,
	})

	go func() {
		if err := server.Start(); err != nil {
			zl.Error("API server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	zl.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("API shutdown error", zap.Error(err))
	}

	// Stop broadcasts a departure notice so the remaining peers can elect a
	// replacement without waiting for the liveness timeout.
	if err := elector.Stop(); err != nil {
		zl.Error("elector stop error", zap.Error(err))
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		zl.Error("tracer shutdown error", zap.Error(err))
	}

	zl.Info("shutdown complete")
}

func buildConnector(cfg *config.Config) (transport.Connector, error) {
	switch cfg.Transport {
	case "memory":
		return memory.NewBus(), nil
	case "amqp":
		return amqp.NewConnector(cfg.AmqpURL)
	default:
		return redis.NewConnector(cfg.RedisAddr)
	}
}
