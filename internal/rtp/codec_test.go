package rtp

import (
	"bytes"
	"testing"
)

func TestParseLiteralDatagram(t *testing.T) {
	raw := []byte{
		0x80, 0x00, 0x12, 0x34, 0x00, 0x00, 0x01, 0x40,
		0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0xFF, 0xFF, 0xFF,
	}

	pkt, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if pkt.Version != 2 {
		t.Errorf("Version = %d, want 2", pkt.Version)
	}
	if pkt.Sequence != 0x1234 {
		t.Errorf("Sequence = %#x, want 0x1234", pkt.Sequence)
	}
	if pkt.Timestamp != 0x140 {
		t.Errorf("Timestamp = %#x, want 0x140", pkt.Timestamp)
	}
	if pkt.SSRC != 0xDEADBEEF {
		t.Errorf("SSRC = %#x, want 0xDEADBEEF", pkt.SSRC)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(pkt.Payload, want) {
		t.Errorf("Payload = %v, want %v", pkt.Payload, want)
	}
}

func TestParseRejectsShortDatagram(t *testing.T) {
	if _, err := Parse(make([]byte, 11)); err == nil {
		t.Fatal("Parse() on 11-byte buffer: expected error, got nil")
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	raw := make([]byte, 12)
	raw[0] = 0x00 // version 0
	if _, err := Parse(raw); err == nil {
		t.Fatal("Parse() with version 0: expected error, got nil")
	}
}

func TestParsePayloadLengthInvariant(t *testing.T) {
	// Two CSRC identifiers plus an 8-byte payload.
	raw := make([]byte, 12+4*2+8)
	raw[0] = 0x80 | 0x02 // version 2, csrc count 2
	pkt, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wantLen := len(raw) - (12 + 4*2)
	if len(pkt.Payload) != wantLen {
		t.Errorf("len(Payload) = %d, want %d", len(pkt.Payload), wantLen)
	}
}

func TestParseHonoursPadding(t *testing.T) {
	raw := make([]byte, 12+8)
	raw[0] = 0x80 | 0x20 // version 2, padding set
	raw[len(raw)-1] = 3  // last 3 bytes are padding
	pkt, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wantLen := 8 - 3
	if len(pkt.Payload) != wantLen {
		t.Errorf("len(Payload) = %d, want %d", len(pkt.Payload), wantLen)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	out, err := Build(PayloadTypeULaw, 0xABCD, 0x1234_5678, 0xCAFEBABE, true, payload)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	pkt, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Build(...)) error = %v", err)
	}
	if pkt.Sequence != 0xABCD {
		t.Errorf("Sequence = %#x, want 0xABCD", pkt.Sequence)
	}
	if pkt.Timestamp != 0x1234_5678 {
		t.Errorf("Timestamp = %#x, want 0x12345678", pkt.Timestamp)
	}
	if pkt.SSRC != 0xCAFEBABE {
		t.Errorf("SSRC = %#x, want 0xCAFEBABE", pkt.SSRC)
	}
	if !pkt.Marker {
		t.Error("Marker = false, want true")
	}
	if pkt.PayloadType != PayloadTypeULaw {
		t.Errorf("PayloadType = %d, want %d", pkt.PayloadType, PayloadTypeULaw)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Errorf("Payload = %v, want %v", pkt.Payload, payload)
	}
}

func TestNextSequenceWraps(t *testing.T) {
	if got := NextSequence(0xFFFF); got != 0x0000 {
		t.Errorf("NextSequence(0xFFFF) = %#x, want 0x0000", got)
	}
	if got := NextSequence(0x1233); got != 0x1234 {
		t.Errorf("NextSequence(0x1233) = %#x, want 0x1234", got)
	}
}

func TestNextTimestampWraps(t *testing.T) {
	const max32 = 0xFFFFFFFF
	if got := NextTimestamp(max32, SamplesPerFrame); got != SamplesPerFrame-1 {
		t.Errorf("NextTimestamp(max32, 160) = %#x, want %#x", got, SamplesPerFrame-1)
	}
}

func TestSequenceTimestampSeriesInvariant(t *testing.T) {
	seq := uint16(0xFFFE)
	ts := uint32(0xFFFFFFFF - 160)

	var seqs []uint16
	var tss []uint32
	for i := 0; i < 4; i++ {
		seq = NextSequence(seq)
		ts = NextTimestamp(ts, SamplesPerFrame)
		seqs = append(seqs, seq)
		tss = append(tss, ts)
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Errorf("seq[%d] = %#x, want %#x", i, seqs[i], seqs[i-1]+1)
		}
		if tss[i] != tss[i-1]+SamplesPerFrame {
			t.Errorf("ts[%d] = %#x, want %#x", i, tss[i], tss[i-1]+SamplesPerFrame)
		}
	}
}
