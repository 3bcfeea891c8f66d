// Command outbound runs the queue-driven campaign dialer (spec §2, §4.6:
// C6 Outbound Controller).
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sebas/voicebridge/internal/adminapi"
	"github.com/sebas/voicebridge/internal/ari"
	"github.com/sebas/voicebridge/internal/banner"
	"github.com/sebas/voicebridge/internal/config"
	"github.com/sebas/voicebridge/internal/logger"
	"github.com/sebas/voicebridge/internal/outbound"

	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Outbound] Configuration error", "error", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogFilePath)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("voicebridge (outbound)", []banner.ConfigLine{
		{Label: "Asterisk", Value: cfg.AsteriskHost},
		{Label: "Stasis App", Value: cfg.OutboundStasisApp},
		{Label: "Batch Size", Value: strconv.Itoa(cfg.DispatchBatchSize)},
		{Label: "Max Attempts", Value: strconv.Itoa(cfg.MaxAttempts)},
	})

	client := ari.NewClient(cfg.AsteriskHost, cfg.AsteriskPort, cfg.AsteriskUsername, cfg.AsteriskPassword)
	store := outbound.NewMySQLStore(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	controller := outbound.NewController(client, store, outbound.Config{
		StasisApp:         cfg.OutboundStasisApp,
		CallerID:          "Overdue Notice",
		Media:             "sound:overdue-notice",
		MaxAttempts:       cfg.MaxAttempts,
		CallTimeout:       cfg.CallTimeout,
		AudioStartTimeout: cfg.AudioStartTimeout,
		MaxSilent:         cfg.MaxSilent,
		RetryDelay:        cfg.RetryDelay,
		InterJobDelay:     cfg.InterJobDelay,
		PerJobTimeout:     cfg.PerJobTimeout,
		BatchSize:         cfg.DispatchBatchSize,
		DispatchInterval:  cfg.DispatchInterval,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	admin := adminapi.NewServer(":9092", nil, controller.Stats())
	go func() {
		if err := admin.Start(ctx); err != nil {
			slog.Error("[Outbound] Admin API exited", "error", err)
		}
	}()

	slog.Info("[Outbound] Starting dispatch loop")
	controller.Run(ctx)
	slog.Info("[Outbound] Shut down")
}
