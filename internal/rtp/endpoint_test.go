package rtp

import (
	"net"
	"testing"
	"time"
)

func TestSuppressNearSilenceReplacesQuietFrame(t *testing.T) {
	frame := make([]byte, SamplesPerFrame)
	for i := range frame {
		frame[i] = 0xFC // at the near-silence threshold
	}
	out := suppressNearSilence(frame)
	for i, b := range out {
		if b != silenceByte {
			t.Fatalf("out[%d] = %#x, want %#x", i, b, silenceByte)
		}
	}
}

func TestSuppressNearSilenceLeavesLoudFrameAlone(t *testing.T) {
	frame := make([]byte, SamplesPerFrame)
	for i := range frame {
		frame[i] = 0x10 // well below the near-silence threshold
	}
	out := suppressNearSilence(frame)
	for i, b := range out {
		if b != 0x10 {
			t.Fatalf("out[%d] = %#x, want 0x10 (frame should pass through unchanged)", i, b)
		}
	}
}

func TestSuppressNearSilenceRatioBoundary(t *testing.T) {
	// Exactly 90% near-silent bytes must NOT trigger replacement (ratio check
	// is "> 0.9", not ">= 0.9").
	frame := make([]byte, 10)
	for i := 0; i < 9; i++ {
		frame[i] = 0xFF
	}
	frame[9] = 0x00
	out := suppressNearSilence(frame)
	if out[9] != 0x00 {
		t.Errorf("frame at exactly 90%% near-silence was replaced; want unchanged")
	}
}

func TestSuppressNearSilenceEmptyPayload(t *testing.T) {
	if out := suppressNearSilence(nil); len(out) != 0 {
		t.Errorf("suppressNearSilence(nil) = %v, want empty", out)
	}
}

func TestBindReturnsNoPortAvailableWhenExhausted(t *testing.T) {
	pool := NewPortPool(31000, 31001) // exactly one port
	ep1, err := Bind("call-1", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind() first call error = %v", err)
	}
	defer ep1.Stop()

	if _, err := Bind("call-2", pool, "127.0.0.1"); err != ErrNoPortAvailable {
		t.Fatalf("Bind() on exhausted pool: error = %v, want %v", err, ErrNoPortAvailable)
	}
}

func TestBindReleasesPortOnStop(t *testing.T) {
	pool := NewPortPool(31010, 31011)
	ep, err := Bind("call-1", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ep.Stop()
	if got := pool.Available(); got != 1 {
		t.Errorf("Available() after Stop() = %d, want 1", got)
	}
}

func TestEndpointStopIsIdempotent(t *testing.T) {
	pool := NewPortPool(31020, 31021)
	ep, err := Bind("call-1", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	ep.Start(nil, PayloadTypeULaw)

	ep.Stop()
	ep.Stop() // must not panic or block

	if got := pool.Available(); got != 1 {
		t.Errorf("Available() after double Stop() = %d, want 1", got)
	}
}

func TestSendBeforeStartedReturnsErrNotStarted(t *testing.T) {
	pool := NewPortPool(31030, 31031)
	ep, err := Bind("call-1", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer ep.Stop()
	ep.Start(nil, PayloadTypeULaw) // no remote address yet

	if err := ep.Send(make([]byte, SamplesPerFrame)); err != ErrNotStarted {
		t.Errorf("Send() before remote known: error = %v, want %v", err, ErrNotStarted)
	}
}

// TestEndpointRoundTrip binds two endpoints on loopback, points one at the
// other, queues enough frames to fill the egress priming buffer, and verifies
// a sent frame arrives through the ingress channel as an RTP-unwrapped
// payload (spec §3, §4.2).
func TestEndpointRoundTrip(t *testing.T) {
	pool := NewPortPool(31040, 31042)

	receiver, err := Bind("callee", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind(receiver) error = %v", err)
	}
	defer receiver.Stop()
	receiver.batchSize = SamplesPerFrame // flush the ingress side on every frame
	receiver.Start(nil, PayloadTypeULaw)

	sender, err := Bind("caller", pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("Bind(sender) error = %v", err)
	}
	defer sender.Stop()

	remote := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: receiver.LocalPort()}
	sender.Start(remote, PayloadTypeULaw)

	payload := make([]byte, SamplesPerFrame)
	for i := range payload {
		payload[i] = byte(i)
	}
	// The egress pacer holds transmission until primingFrames are queued.
	for i := 0; i < primingFrames; i++ {
		if err := sender.Send(payload); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	select {
	case got := <-receiver.Ingress():
		if len(got) != len(payload) {
			t.Fatalf("received payload len = %d, want %d", len(got), len(payload))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingress frame")
	}
}
