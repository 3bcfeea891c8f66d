package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	audioQueueCapacity = 200 // ~4s of 20ms frames either direction
	pingInterval       = 90 * time.Second
	pongTimeout        = 30 * time.Second
)

// toolAccumulator collects streamed function_call_arguments.delta fragments.
// Invariant: at most one call is being accumulated at a time (spec §3).
type toolAccumulator struct {
	mu     sync.Mutex
	active bool
	callID string
	name   string
	args   strings.Builder
}

func (a *toolAccumulator) addFragment(callID, name, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		a.active = true
		a.callID = callID
		a.name = name
	}
	if name != "" && a.name == "" {
		a.name = name
	}
	a.args.WriteString(delta)
}

// finish returns the accumulated call and resets the accumulator so a new
// one may begin.
func (a *toolAccumulator) finish() (callID, name, args string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return "", "", "", false
	}
	callID, name, args = a.callID, a.name, a.args.String()
	a.active = false
	a.callID = ""
	a.name = ""
	a.args.Reset()
	return callID, name, args, true
}

func (a *toolAccumulator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.callID = ""
	a.name = ""
	a.args.Reset()
}

// transcriptAccumulator collects streamed response.audio_transcript.delta
// fragments for the in-flight response so the full utterance can be logged
// once on .done, mirroring toolAccumulator's shape (spec §4 item 2).
type transcriptAccumulator struct {
	mu   sync.Mutex
	text strings.Builder
}

func (a *transcriptAccumulator) addFragment(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.text.WriteString(delta)
}

// finish returns the accumulated transcript and resets the buffer.
func (a *transcriptAccumulator) finish() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.text.String()
	a.text.Reset()
	return text
}

// Session is a live Realtime WebSocket connection for one CallSession. Three
// cooperating tasks run against it: the WS reader, the outgoing-audio pump,
// and zero-or-more tool workers (spec §4.4, §5).
type Session struct {
	conn *websocket.Conn
	cfg  Config

	writeMu sync.Mutex

	outgoingAudio chan []byte
	incomingAudio chan []byte

	speaking atomic.Bool
	readyCh  chan struct{}
	readySet atomic.Bool

	accum           toolAccumulator
	transcriptAccum transcriptAccumulator

	toolHandler ToolHandler

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

func newSession(conn *websocket.Conn, cfg Config) *Session {
	return &Session{
		conn:          conn,
		cfg:           cfg,
		outgoingAudio: make(chan []byte, audioQueueCapacity),
		incomingAudio: make(chan []byte, audioQueueCapacity),
		readyCh:       make(chan struct{}),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Run starts the reader, outgoing-audio pump, and keepalive ping tasks.
// toolHandler may be nil if no tools are configured.
func (s *Session) Run(ctx context.Context, toolHandler ToolHandler) {
	s.toolHandler = toolHandler

	s.wg.Add(3)
	go s.readLoop(ctx)
	go s.outgoingPump()
	go s.pingLoop()

	go func() {
		s.wg.Wait()
		close(s.doneCh)
	}()
}

// Done is closed once the session has fully torn down (WS closed, all tasks
// exited). A closed Done means the owning CallSession should tear down too
// (spec §7: "realtime WS not auto-reconnected within a call").
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// SendAudio enqueues one caller-audio frame for upload as
// input_audio_buffer.append. It blocks briefly under backpressure if the
// outgoing queue is full (spec §5).
func (s *Session) SendAudio(frame []byte) {
	select {
	case s.outgoingAudio <- frame:
	case <-s.stopCh:
	}
}

// IncomingAudio returns the channel of decoded assistant audio frames ready
// for C2 egress.
func (s *Session) IncomingAudio() <-chan []byte { return s.incomingAudio }

// Speaking reports whether the assistant is currently producing audio.
func (s *Session) Speaking() bool { return s.speaking.Load() }

// Close idempotently tears down the session.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.conn.Close()
	})
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *Session) outgoingPump() {
	defer s.wg.Done()

	select {
	case <-s.readyCh:
	case <-s.stopCh:
		return
	}

	for {
		select {
		case <-s.stopCh:
			return
		case frame := <-s.outgoingAudio:
			b64 := base64.StdEncoding.EncodeToString(frame)
			if err := s.writeJSON(audioAppendPayload(b64)); err != nil {
				slog.Debug("[Realtime] Audio append write failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) pingLoop() {
	defer s.wg.Done()

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				slog.Debug("[Realtime] Ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				slog.Info("[Realtime] WebSocket closed", "error", err)
			}
			return
		}

		var evt InboundEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			slog.Debug("[Realtime] Malformed event frame dropped", "error", err)
			continue
		}

		s.handleEvent(ctx, &evt)
	}
}

func (s *Session) handleEvent(ctx context.Context, evt *InboundEvent) {
	switch evt.Type {
	case "session.updated":
		if s.readySet.CompareAndSwap(false, true) {
			close(s.readyCh)
			if s.cfg.InitialGreeting != "" {
				if err := s.writeJSON(greetingItemPayload(s.cfg.InitialGreeting)); err != nil {
					slog.Debug("[Realtime] Failed to send initial greeting item", "error", err)
					return
				}
				if err := s.writeJSON(responseCreatePayload()); err != nil {
					slog.Debug("[Realtime] Failed to request greeting response", "error", err)
				}
			}
		}

	case "input_audio_buffer.speech_started":
		// Barge-in: discard any assistant audio not yet played (spec §4.4).
		drained := 0
		for {
			select {
			case <-s.incomingAudio:
				drained++
			default:
				if drained > 0 {
					slog.Debug("[Realtime] Barge-in discarded queued audio", "frames", drained)
				}
				return
			}
		}

	case "input_audio_buffer.speech_stopped":
		// No-op; the server will emit response.* events.

	case "response.audio.delta":
		s.speaking.Store(true)
		decoded, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			slog.Debug("[Realtime] Failed to decode audio delta", "error", err)
			return
		}
		select {
		case s.incomingAudio <- decoded:
		case <-s.stopCh:
		}

	case "response.audio_transcript.delta":
		s.transcriptAccum.addFragment(evt.Delta)

	case "response.audio_transcript.done":
		transcript := s.transcriptAccum.finish()
		if transcript == "" {
			transcript = evt.Transcript
		}
		slog.Info("[Realtime] Assistant transcript", "transcript", transcript)

	case "response.function_call_arguments.delta":
		s.accum.addFragment(evt.CallID, evt.Name, evt.Delta)

	case "response.function_call_arguments.done":
		s.accum.addFragment(evt.CallID, evt.Name, "")
		callID, name, args, ok := s.accum.finish()
		if ok {
			s.wg.Add(1)
			go s.dispatchTool(ctx, callID, name, args)
		}

	case "response.done":
		s.speaking.Store(false)
		s.accum.reset()
		s.transcriptAccum.finish()

	case "error":
		msg := ""
		if evt.Error != nil {
			msg = evt.Error.Message
		}
		slog.Warn("[Realtime] Server error event", "message", msg)

	default:
		// Unrecognized event type; counted implicitly by absence of a case,
		// never fatal (spec §7).
	}
}
