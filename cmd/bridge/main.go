// Command bridge runs the inbound ARI↔OpenAI Realtime voice bridge
// (spec §2: C3 ARI Client, C4 Realtime Session, C5 Call Session).
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
	"github.com/sebas/voicebridge/internal/callsession"
	"github.com/sebas/voicebridge/internal/config"
	"github.com/sebas/voicebridge/internal/logger"
	"github.com/sebas/voicebridge/internal/realtime"
	"github.com/sebas/voicebridge/internal/rtp"
	"github.com/sebas/voicebridge/internal/toolbackend"

	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("[Bridge] Configuration error", "error", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogFilePath)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("voicebridge (inbound)", []banner.ConfigLine{
		{Label: "Asterisk", Value: cfg.AsteriskHost},
		{Label: "Stasis App", Value: cfg.InboundStasisApp},
		{Label: "RTP Port Range", Value: portRangeString(cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Realtime Model", Value: cfg.OpenAIRealtimeModel},
	})

	client := ari.NewClient(cfg.AsteriskHost, cfg.AsteriskPort, cfg.AsteriskUsername, cfg.AsteriskPassword)
	portPool := rtp.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax)

	var toolHandler realtime.ToolHandler
	var tools []realtime.ToolDef
	if cfg.EnableMikrotikTools && cfg.MikrotikAPIURL != "" {
		tb := toolbackend.NewClient(cfg.MikrotikAPIURL, true)
		toolHandler = toolbackend.NewHandler(tb, "network_info")
		tools = []realtime.ToolDef{{
			Type:        "function",
			Name:        "network_info",
			Description: "Look up subscriber network/connectivity information.",
			Parameters:  []byte(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`),
		}}
	}

	realtimeCfg := realtime.Config{
		Model:           cfg.OpenAIRealtimeModel,
		APIKey:          cfg.OpenAIAPIKey,
		Voice:           cfg.RealtimeVoice,
		Instructions:    cfg.RealtimeInstructions,
		InitialGreeting: cfg.RealtimeInitialGreeting,
		VAD: realtime.VADConfig{
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMs:   cfg.VADPrefixPaddingMs,
			SilenceDurationMs: cfg.VADSilenceDurationMs,
		},
		Tools: tools,
	}

	manager := callsession.NewManager(client, cfg.InboundStasisApp, callsession.Deps{
		PortPool:    portPool,
		LocalIP:     cfg.LocalIPAddress,
		RealtimeCfg: realtimeCfg,
		ToolHandler: toolHandler,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	subscriber := ari.NewEventSubscriber(client, cfg.InboundStasisApp)
	go subscriber.Run(ctx)

	admin := adminapi.NewServer(":9091", manager, nil)
	go func() {
		if err := admin.Start(ctx); err != nil {
			slog.Error("[Bridge] Admin API exited", "error", err)
		}
	}()

	slog.Info("[Bridge] Ready, awaiting ARI events")
	for {
		select {
		case <-ctx.Done():
			slog.Info("[Bridge] Shutting down")
			return
		case evt, ok := <-subscriber.Events():
			if !ok {
				return
			}
			manager.HandleEvent(ctx, evt)
		}
	}
}

func portRangeString(min, max int) string {
	return strconv.Itoa(min) + "-" + strconv.Itoa(max)
}
