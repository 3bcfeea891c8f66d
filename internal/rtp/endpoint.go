package rtp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxDatagramSize = 1024
	// DefaultBatchSize is the ingress accumulator threshold (spec §4.2:
	// "default 600 bytes ≈ 75 ms").
	DefaultBatchSize = 600
	// primingFrames is how many egress frames must queue before the pacer
	// starts transmitting (spec §4.2: "~200 ms").
	primingFrames = 10
	// egressQueueCapacity bounds the egress buffer (spec §3: "a bounded
	// egress buffer").
	egressQueueCapacity = 250
	// DefaultFrameInterval is the nominal RTP frame cadence. spec.md's
	// Open Questions flag that the original used 17.9ms for undocumented
	// reasons; we default to the documented 20ms and leave it
	// configurable (see Endpoint.FrameInterval).
	DefaultFrameInterval = 20 * time.Millisecond
	// egressUnderflowWait is how long the pacer waits for a delayed frame
	// before falling back to a silence frame (spec §4.2).
	egressUnderflowWait = 500 * time.Millisecond
	// silenceByte is the canonical µ-law silence byte (spec §9: "Choose
	// 0xFF consistently").
	silenceByte = 0xFF
	// nearSilenceThreshold is the byte value at or above which a µ-law
	// sample is treated as near-silence (spec §4.2).
	nearSilenceThreshold = 0xFC
	// nearSilenceFrameRatio is the fraction of near-silent bytes in a frame
	// that triggers whole-frame replacement.
	nearSilenceFrameRatio = 0.9
)

// ErrNotStarted is returned by Send when the endpoint has no remote
// endpoint yet (spec §4.2).
var ErrNotStarted = errors.New("rtp: endpoint has no remote address")

// ErrBindFailed is returned by Bind when 32 ports drawn from the pool in a
// row all fail to bind.
var ErrBindFailed = errors.New("rtp: bind failed")

// Stats exposes counters useful for diagnostics and tests.
type Stats struct {
	InvalidFrames   int64
	IngressFrames   int64
	IngressBytes    int64
	EgressFrames    int64
	EgressSilence   int64
	EgressUnderflow int64
}

// Endpoint is a per-call UDP RTP socket: one ingress receive loop batching
// payload bytes for delivery, and one paced egress loop draining a bounded
// frame queue at a fixed cadence (spec §3, §4.2).
type Endpoint struct {
	callID string
	pool   rtpPool
	conn   *net.UDPConn

	localPort int
	codec     PayloadType

	remoteAddr atomic.Pointer[net.UDPAddr]

	batchSize     int
	FrameInterval time.Duration

	ingressCh chan []byte
	egressCh  chan []byte
	egressLen atomic.Int32

	ssrc uint32
	seq  uint16
	ts   uint32

	stats Stats

	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// rtpPool is the subset of PortPool the endpoint needs, so tests can fake it.
type rtpPool interface {
	Allocate() (int, error)
	Release(port int)
}

// Bind opens a UDP socket on a port drawn from pool, retrying the next free
// port on bind failure (spec §5: "on bind failure the next port is tried").
func Bind(callID string, pool *PortPool, bindIP string) (*Endpoint, error) {
	const maxAttempts = 32
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		port, err := pool.Allocate()
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(bindIP), Port: port})
		if err != nil {
			pool.Release(port)
			lastErr = err
			continue
		}
		ep := &Endpoint{
			callID:        callID,
			pool:          pool,
			conn:          conn,
			localPort:     port,
			batchSize:     DefaultBatchSize,
			FrameInterval: DefaultFrameInterval,
			ingressCh:     make(chan []byte, 32),
			egressCh:      make(chan []byte, egressQueueCapacity),
			ssrc:          GenerateSSRC(),
			seq:           GenerateSequenceStart(),
			ts:            GenerateTimestampStart(),
			stopCh:        make(chan struct{}),
		}
		return ep, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrBindFailed, lastErr)
}

// LocalPort returns the bound local UDP port.
func (e *Endpoint) LocalPort() int { return e.localPort }

// Start begins the ingress receive loop and the egress pacing loop. remote
// may be nil; the first received datagram then learns the remote address
// (spec §3: "may be unknown at start, learned on first ingress").
func (e *Endpoint) Start(remote *net.UDPAddr, codec PayloadType) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.codec = codec
	if remote != nil {
		e.remoteAddr.Store(remote)
	}

	e.wg.Add(2)
	go e.ingressLoop()
	go e.egressLoop()
}

// Ingress returns the channel of batched µ-law payload chunks arriving from
// the caller. It is closed once Stop has fully drained the receive loop.
func (e *Endpoint) Ingress() <-chan []byte {
	return e.ingressCh
}

// Send enqueues one frame (conventionally 160 bytes for 8kHz/20ms µ-law) for
// paced transmission. It blocks briefly under backpressure if the egress
// buffer is full (spec §5).
func (e *Endpoint) Send(payload []byte) error {
	if e.remoteAddr.Load() == nil {
		return ErrNotStarted
	}
	select {
	case e.egressCh <- payload:
		e.egressLen.Add(1)
		return nil
	case <-e.stopCh:
		return ErrNotStarted
	}
}

// Stop idempotently tears down the endpoint: closes the socket (unblocking
// the receive loop), signals the egress loop to exit, and releases the port
// back to the pool. Calling Stop twice is a no-op (spec testable property 7).
func (e *Endpoint) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		_ = e.conn.Close()
		e.wg.Wait()
		close(e.ingressCh)
		if e.pool != nil {
			e.pool.Release(e.localPort)
		}
		slog.Debug("[RTP] Endpoint stopped", "call_id", e.callID, "local_port", e.localPort,
			"ingress_frames", e.stats.IngressFrames, "egress_frames", e.stats.EgressFrames,
			"invalid_frames", e.stats.InvalidFrames)
	})
}

// Stats returns a snapshot of the endpoint's counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		InvalidFrames:   atomic.LoadInt64(&e.stats.InvalidFrames),
		IngressFrames:   atomic.LoadInt64(&e.stats.IngressFrames),
		IngressBytes:    atomic.LoadInt64(&e.stats.IngressBytes),
		EgressFrames:    atomic.LoadInt64(&e.stats.EgressFrames),
		EgressSilence:   atomic.LoadInt64(&e.stats.EgressSilence),
		EgressUnderflow: atomic.LoadInt64(&e.stats.EgressUnderflow),
	}
}

func (e *Endpoint) ingressLoop() {
	defer e.wg.Done()

	buf := make([]byte, maxDatagramSize)
	var accum []byte

	for {
		_ = e.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		if e.remoteAddr.Load() == nil {
			e.remoteAddr.Store(addr)
			slog.Debug("[RTP] Learned remote endpoint", "call_id", e.callID, "remote", addr.String())
		}

		pkt, err := Parse(buf[:n])
		if err != nil {
			atomic.AddInt64(&e.stats.InvalidFrames, 1)
			continue
		}
		atomic.AddInt64(&e.stats.IngressFrames, 1)
		atomic.AddInt64(&e.stats.IngressBytes, int64(len(pkt.Payload)))

		payload := suppressNearSilence(pkt.Payload)
		accum = append(accum, payload...)

		for len(accum) >= e.batchSize {
			chunk := make([]byte, e.batchSize)
			copy(chunk, accum[:e.batchSize])
			accum = accum[e.batchSize:]

			select {
			case e.ingressCh <- chunk:
			case <-e.stopCh:
				return
			}
		}
	}
}

func (e *Endpoint) egressLoop() {
	defer e.wg.Done()

	// Priming buffer: wait for primingFrames to queue (or stop) before the
	// first transmission, to absorb the TTS start transient (spec §4.2).
	for e.egressLen.Load() < primingFrames {
		select {
		case <-e.stopCh:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}

	deadline := time.Now()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		var frame []byte
		select {
		case frame = <-e.egressCh:
			e.egressLen.Add(-1)
		case <-e.stopCh:
			return
		case <-time.After(egressUnderflowWait):
			frame = make([]byte, SamplesPerFrame)
			for i := range frame {
				frame[i] = silenceByte
			}
			atomic.AddInt64(&e.stats.EgressSilence, 1)
			atomic.AddInt64(&e.stats.EgressUnderflow, 1)
		}

		remote := e.remoteAddr.Load()
		if remote == nil {
			continue
		}

		e.seq = NextSequence(e.seq)
		e.ts = NextTimestamp(e.ts, SamplesPerFrame)

		out, err := Build(e.codec, e.seq, e.ts, e.ssrc, false, frame)
		if err == nil {
			if _, err := e.conn.WriteToUDP(out, remote); err != nil {
				slog.Debug("[RTP] Egress write failed", "call_id", e.callID, "error", err)
			} else {
				atomic.AddInt64(&e.stats.EgressFrames, 1)
			}
		}

		deadline = deadline.Add(e.FrameInterval)
		if wait := time.Until(deadline); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-e.stopCh:
				timer.Stop()
				return
			}
		} else {
			// We've fallen behind (e.g. after the underflow wait); resync
			// instead of accumulating drift.
			deadline = time.Now()
		}
	}
}

// suppressNearSilence implements spec §4.2's low-amplitude noise gate:
// µ-law bytes >= 0xFC are near-silence; if more than 90% of a frame is
// near-silent, the whole frame is replaced with the canonical silence byte.
func suppressNearSilence(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	near := 0
	for _, b := range payload {
		if b >= nearSilenceThreshold {
			near++
		}
	}
	if float64(near)/float64(len(payload)) <= nearSilenceFrameRatio {
		return payload
	}
	out := make([]byte, len(payload))
	for i := range out {
		out[i] = silenceByte
	}
	return out
}
