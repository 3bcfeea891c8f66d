package callsession

import (
	"log/slog"
	"time"

	"github.com/sebas/voicebridge/internal/store"
)

// playbackTTL is a safety net against a PlaybackFinished event that never
// arrives; normal disambiguation removes entries explicitly on the terminal
// playback event or call teardown (spec §3: PlaybackMap).
const playbackTTL = 10 * time.Minute

// PlaybackMap disambiguates ARI's PlaybackStarted/PlaybackFinished events,
// which carry only a playback id, against the channel that playback targets.
type PlaybackMap struct {
	store *store.TTLStore[string, string]
}

// NewPlaybackMap creates an empty map. An entry that reaches its TTL
// without being explicitly Forgotten means a PlaybackFinished event never
// arrived for it; that is logged so it shows up as an operational signal
// rather than disappearing silently (spec §3: PlaybackMap).
func NewPlaybackMap() *PlaybackMap {
	return &PlaybackMap{store: store.NewTTLStoreWithEvict(time.Minute, func(playbackID, channelID string) {
		slog.Warn("[CallSession] Playback entry expired without a terminal event", "playback_id", playbackID, "channel_id", channelID)
	})}
}

// Track records that playbackID targets channelID.
func (p *PlaybackMap) Track(playbackID, channelID string) {
	p.store.Set(playbackID, channelID, playbackTTL)
}

// ChannelFor resolves a playback id to its target channel.
func (p *PlaybackMap) ChannelFor(playbackID string) (string, bool) {
	return p.store.Get(playbackID)
}

// Forget removes a playback entry (terminal event or teardown).
func (p *PlaybackMap) Forget(playbackID string) {
	p.store.Delete(playbackID)
}

// Close releases the map's background cleanup goroutine.
func (p *PlaybackMap) Close() {
	p.store.Close()
}
