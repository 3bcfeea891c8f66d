// Package rtp implements the RTP wire codec and a per-call UDP endpoint for
// G.711 telephony audio (see spec §4.1, §4.2).
package rtp

import (
	"errors"
	"fmt"

	pionrtp "github.com/pion/rtp"
)

// PayloadType identifies the G.711 encoding carried in a packet.
type PayloadType uint8

const (
	PayloadTypeULaw PayloadType = 0 // G.711 µ-law
	PayloadTypeALaw PayloadType = 8 // G.711 A-law
)

// SamplesPerFrame is the number of 8kHz samples in one 20ms frame.
const SamplesPerFrame = 160

// ErrInvalidFrame is returned when a datagram cannot be parsed as RTP.
var ErrInvalidFrame = errors.New("rtp: invalid frame")

// Packet is a parsed RTP packet. Only the fields the bridge cares about are
// exposed; unused header bits (padding/extension contents) are not retained
// once Parse has stripped them.
type Packet struct {
	Version     uint8
	Padding     bool
	Extension   bool
	CSRCCount   uint8
	Marker      bool
	PayloadType PayloadType
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
	Payload     []byte
}

// Parse decodes an RTP datagram per spec §4.1. It rejects datagrams shorter
// than a minimal header, datagrams with version != 2, and datagrams whose
// computed payload offset exceeds the buffer length.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("%w: length %d < 12", ErrInvalidFrame, len(buf))
	}

	version := buf[0] >> 6
	if version != 2 {
		return nil, fmt.Errorf("%w: version %d != 2", ErrInvalidFrame, version)
	}

	padding := buf[0]&0x20 != 0
	extension := buf[0]&0x10 != 0
	csrcCount := buf[0] & 0x0F
	marker := buf[1]&0x80 != 0
	payloadType := PayloadType(buf[1] & 0x7F)
	sequence := uint16(buf[2])<<8 | uint16(buf[3])
	timestamp := uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])
	ssrc := uint32(buf[8])<<24 | uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])

	offset := 12 + 4*int(csrcCount)
	if offset > len(buf) {
		return nil, fmt.Errorf("%w: csrc offset %d exceeds length %d", ErrInvalidFrame, offset, len(buf))
	}

	if extension {
		if offset+4 > len(buf) {
			return nil, fmt.Errorf("%w: extension header exceeds length", ErrInvalidFrame)
		}
		extLenWords := int(buf[offset+2])<<8 | int(buf[offset+3])
		offset += 4 + 4*extLenWords
		if offset > len(buf) {
			return nil, fmt.Errorf("%w: extension offset %d exceeds length %d", ErrInvalidFrame, offset, len(buf))
		}
	}

	payload := buf[offset:]
	if padding {
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: padding bit set with empty payload", ErrInvalidFrame)
		}
		padLen := int(payload[len(payload)-1])
		if padLen > len(payload) {
			return nil, fmt.Errorf("%w: padding length %d exceeds payload %d", ErrInvalidFrame, padLen, len(payload))
		}
		payload = payload[:len(payload)-padLen]
	}

	return &Packet{
		Version:     version,
		Padding:     padding,
		Extension:   extension,
		CSRCCount:   csrcCount,
		Marker:      marker,
		PayloadType: payloadType,
		Sequence:    sequence,
		Timestamp:   timestamp,
		SSRC:        ssrc,
		Payload:     payload,
	}, nil
}

// Build serializes an outgoing RTP packet with a fixed, minimal header:
// version 2, no padding/extension/csrc, using pion/rtp for marshaling so the
// wire bytes match the library the rest of the pack reaches for.
func Build(pt PayloadType, sequence uint16, timestamp uint32, ssrc uint32, marker bool, payload []byte) ([]byte, error) {
	pkt := &pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         marker,
			PayloadType:    uint8(pt),
			SequenceNumber: sequence,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}

// NextSequence advances an RTP sequence number, wrapping mod 2^16.
func NextSequence(seq uint16) uint16 {
	return seq + 1
}

// NextTimestamp advances an RTP timestamp by one frame's worth of samples,
// wrapping mod 2^32.
func NextTimestamp(ts uint32, samples uint32) uint32 {
	return ts + samples
}
