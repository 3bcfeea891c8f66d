// Package callsession orchestrates one inbound call: it binds the RTP
// endpoint, negotiates the ExternalMedia channel and mixing bridge through
// ARI, and wires a Realtime session between them (spec §4.5).
package callsession

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/voicebridge/internal/ari"
	"github.com/sebas/voicebridge/internal/realtime"
	"github.com/sebas/voicebridge/internal/rtp"
)

// SessionError reports which setup step failed, for diagnostics, mirroring
// the teacher's ExecutionError "partial progress" shape.
type SessionError struct {
	ChannelID string
	Step      string
	Cause     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("callsession %s: step %q failed: %v", e.ChannelID, e.Step, e.Cause)
}

func (e *SessionError) Unwrap() error { return e.Cause }

// Session is one active inbound call (spec §3: CallSession).
type Session struct {
	ChannelID         string
	Codec             rtp.PayloadType
	LocalAddr         string
	RemoteAddr        *net.UDPAddr
	BridgeID          string
	ExternalChannelID string
	CreatedAt         time.Time

	Endpoint *rtp.Endpoint
	Realtime *realtime.Session

	cancel context.CancelFunc

	mu              sync.Mutex
	forcedAudioFlag bool
}

// Deps bundles the per-session construction dependencies injected by
// Manager (spec §3: "The ARI Client is shared (process-wide)").
type Deps struct {
	ARI          *ari.Client
	PortPool     *rtp.PortPool
	LocalIP      string
	StasisApp    string
	RealtimeCfg  realtime.Config
	ToolHandler  realtime.ToolHandler
}

// Start performs the full §4.5 setup sequence for a newly arrived
// StasisStart on channel ch.
func Start(parentCtx context.Context, ch *ari.Channel, deps Deps) (*Session, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	s := &Session{
		ChannelID: ch.ID,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	remote, err := fetchRemoteRTPAddr(ctx, deps.ARI, ch.ID)
	if err != nil {
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "fetch_remote_rtp", Cause: err}
	}
	s.RemoteAddr = remote
	s.Codec = detectCodec(ctx, deps.ARI, ch.ID)

	endpoint, err := rtp.Bind(ch.ID, deps.PortPool, "0.0.0.0")
	if err != nil {
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "bind_rtp_port", Cause: err}
	}
	s.Endpoint = endpoint
	s.LocalAddr = fmt.Sprintf("%s:%d", deps.LocalIP, endpoint.LocalPort())

	format := "ulaw"
	if s.Codec == rtp.PayloadTypeALaw {
		format = "alaw"
	}
	extChannelID, err := deps.ARI.CreateExternalMedia(ctx, ari.ExternalMediaOptions{
		App:          deps.StasisApp,
		ExternalHost: s.LocalAddr,
		Format:       format,
	})
	if err != nil {
		endpoint.Stop()
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "create_external_media", Cause: err}
	}
	s.ExternalChannelID = extChannelID

	endpoint.Start(s.RemoteAddr, s.Codec)

	bridgeID, err := deps.ARI.CreateBridge(ctx, "mixing", uuid.New().String())
	if err != nil {
		s.teardownPartial(ctx, deps.ARI)
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "create_bridge", Cause: err}
	}
	s.BridgeID = bridgeID

	if err := deps.ARI.AddChannel(ctx, bridgeID, ch.ID); err != nil {
		s.teardownPartial(ctx, deps.ARI)
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "bridge_add_caller", Cause: err}
	}
	if err := deps.ARI.AddChannel(ctx, bridgeID, extChannelID); err != nil {
		s.teardownPartial(ctx, deps.ARI)
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "bridge_add_external", Cause: err}
	}

	rt, err := realtime.Dial(ctx, deps.RealtimeCfg)
	if err != nil {
		s.teardownPartial(ctx, deps.ARI)
		cancel()
		return nil, &SessionError{ChannelID: ch.ID, Step: "realtime_dial", Cause: err}
	}
	s.Realtime = rt
	rt.Run(ctx, deps.ToolHandler)

	go s.pumpIngress(ctx)
	go s.pumpEgress(ctx)
	go s.watchForSilence(ctx)

	slog.Info("[CallSession] Established", "channel_id", ch.ID, "bridge_id", bridgeID,
		"external_channel_id", extChannelID, "local_addr", s.LocalAddr, "remote_addr", remote.String())

	return s, nil
}

// pumpIngress forwards caller audio from the RTP endpoint to the Realtime
// session's outgoing queue (spec §4.5 step 7).
func (s *Session) pumpIngress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.Endpoint.Ingress():
			if !ok {
				return
			}
			s.Realtime.SendAudio(frame)
		}
	}
}

// pumpEgress forwards assistant audio from the Realtime session back to the
// caller through the RTP endpoint (spec §4.5 step 7). Frames larger than one
// 160-byte RTP frame are split to preserve egress pacing granularity.
func (s *Session) pumpEgress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-s.Realtime.IncomingAudio():
			if !ok {
				return
			}
			for off := 0; off < len(chunk); off += rtp.SamplesPerFrame {
				end := off + rtp.SamplesPerFrame
				if end > len(chunk) {
					end = len(chunk)
				}
				if err := s.Endpoint.Send(chunk[off:end]); err != nil {
					return
				}
			}
		}
	}
}

// watchForSilence implements the "forcing audio_started" fallback
// (spec §9 Open Question #3): if no caller audio is ever observed, we still
// proceed rather than leaving the call hung, but we surface the fallback
// via a structured log line and a counter the admin API can expose.
func (s *Session) watchForSilence(ctx context.Context) {
	const silentCallGrace = 20 * time.Second
	timer := time.NewTimer(silentCallGrace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-s.Endpoint.Ingress():
		return
	case <-timer.C:
		s.mu.Lock()
		s.forcedAudioFlag = true
		s.mu.Unlock()
		slog.Warn("[CallSession] No caller audio observed within grace period; forcing audio_started",
			"channel_id", s.ChannelID, "grace", silentCallGrace)
	}
}

// ForcedAudioStarted reports whether the silent-call fallback fired for this
// session (spec §9).
func (s *Session) ForcedAudioStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forcedAudioFlag
}

// Stop performs ordered teardown (spec §4.5): cancel Realtime tasks and
// close its WS; stop the RTP endpoint; hang up the external-media channel;
// delete the bridge; sweep orphan UnicastRTP channels. Idempotent.
func (s *Session) Stop(ctx context.Context, client *ari.Client, stasisApp string) {
	s.cancel()

	if s.Realtime != nil {
		s.Realtime.Close()
	}
	if s.Endpoint != nil {
		s.Endpoint.Stop()
	}
	if s.ExternalChannelID != "" {
		if err := client.Hangup(ctx, s.ExternalChannelID); err != nil {
			slog.Debug("[CallSession] External-media hangup failed", "channel_id", s.ChannelID, "error", err)
		}
	}
	if s.BridgeID != "" {
		if err := client.DeleteBridge(ctx, s.BridgeID); err != nil {
			slog.Debug("[CallSession] Bridge delete failed", "channel_id", s.ChannelID, "error", err)
		}
	}
	sweepOrphanChannels(ctx, client, stasisApp)

	slog.Info("[CallSession] Torn down", "channel_id", s.ChannelID)
}

func (s *Session) teardownPartial(ctx context.Context, client *ari.Client) {
	if s.Endpoint != nil {
		s.Endpoint.Stop()
	}
	if s.ExternalChannelID != "" {
		_ = client.Hangup(ctx, s.ExternalChannelID)
	}
	if s.BridgeID != "" {
		_ = client.DeleteBridge(ctx, s.BridgeID)
	}
}

// sweepOrphanChannels forcibly hangs up any UnicastRTP/* channel belonging
// to the Stasis app (spec §4.3, §4.5).
func sweepOrphanChannels(ctx context.Context, client *ari.Client, stasisApp string) {
	channels, err := client.ListChannels(ctx)
	if err != nil {
		slog.Debug("[CallSession] Orphan sweep list failed", "error", err)
		return
	}
	for _, ch := range channels {
		if !strings.HasPrefix(ch.Name, "UnicastRTP") {
			continue
		}
		if ch.Dialplan != nil && ch.Dialplan.AppName != stasisApp {
			continue
		}
		if err := client.Hangup(ctx, ch.ID); err != nil {
			slog.Debug("[CallSession] Orphan hangup failed", "channel_id", ch.ID, "error", err)
		} else {
			slog.Info("[CallSession] Swept orphan channel", "channel_id", ch.ID, "name", ch.Name)
		}
	}
}

// fetchRemoteRTPAddr parses CHANNEL(rtpdest) as "addr:port" (spec §4.5 step 1).
func fetchRemoteRTPAddr(ctx context.Context, client *ari.Client, channelID string) (*net.UDPAddr, error) {
	val, err := client.GetChannelVar(ctx, channelID, "CHANNEL(rtpdest)")
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, fmt.Errorf("CHANNEL(rtpdest) not available")
	}
	addr, err := net.ResolveUDPAddr("udp", val)
	if err != nil {
		return nil, fmt.Errorf("parse rtpdest %q: %w", val, err)
	}
	return addr, nil
}

// detectCodec probes audioreadformat/audiowriteformat/format, defaulting to
// μ-law when absent (spec §4.5 step 2).
func detectCodec(ctx context.Context, client *ari.Client, channelID string) rtp.PayloadType {
	for _, v := range []string{"CHANNEL(audioreadformat)", "CHANNEL(audiowriteformat)", "CHANNEL(format)"} {
		val, err := client.GetChannelVar(ctx, channelID, v)
		if err != nil || val == "" {
			continue
		}
		if strings.Contains(strings.ToLower(val), "alaw") {
			return rtp.PayloadTypeALaw
		}
		if strings.Contains(strings.ToLower(val), "ulaw") {
			return rtp.PayloadTypeULaw
		}
	}
	return rtp.PayloadTypeULaw
}
