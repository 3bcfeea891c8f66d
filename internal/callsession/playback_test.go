package callsession

import "testing"

func TestPlaybackMapTrackAndLookup(t *testing.T) {
	p := NewPlaybackMap()
	defer p.Close()

	p.Track("pb-1", "chan-1")
	ch, ok := p.ChannelFor("pb-1")
	if !ok || ch != "chan-1" {
		t.Errorf("ChannelFor(pb-1) = (%q, %v), want (chan-1, true)", ch, ok)
	}
}

func TestPlaybackMapForget(t *testing.T) {
	p := NewPlaybackMap()
	defer p.Close()

	p.Track("pb-1", "chan-1")
	p.Forget("pb-1")

	if _, ok := p.ChannelFor("pb-1"); ok {
		t.Error("ChannelFor() after Forget(): ok = true, want false")
	}
}

func TestPlaybackMapUnknownID(t *testing.T) {
	p := NewPlaybackMap()
	defer p.Close()

	if _, ok := p.ChannelFor("never-tracked"); ok {
		t.Error("ChannelFor(never-tracked) ok = true, want false")
	}
}
