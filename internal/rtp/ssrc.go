package rtp

import "github.com/pion/randutil"

// sequenceGenerator backs SSRC/sequence/timestamp generation with
// pion/randutil's crypto-backed generator, the same package pion/rtp's own
// Packetizer uses internally to seed a new stream's SSRC and starting
// sequence number — this module already carries it as a transitive
// dependency of pion/rtp, so it is promoted to a direct one here instead of
// re-deriving the same crypto/rand-plus-byte-order dance by hand.
var sequenceGenerator = randutil.NewCryptoRandomGenerator()

// GenerateSSRC returns a cryptographically random 32-bit SSRC. Per RFC 3550
// the SSRC should be chosen randomly to minimize collisions.
func GenerateSSRC() uint32 {
	return sequenceGenerator.Uint32()
}

// GenerateSequenceStart returns a random initial sequence number, per
// RFC 3550 (makes known-plaintext attacks on the stream harder).
func GenerateSequenceStart() uint16 {
	return uint16(sequenceGenerator.Uint32())
}

// GenerateTimestampStart returns a random initial RTP timestamp.
func GenerateTimestampStart() uint32 {
	return sequenceGenerator.Uint32()
}
