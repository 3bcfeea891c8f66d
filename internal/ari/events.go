package ari

import "encoding/json"

// EventType tags the kind of ARI Stasis event carried in a WS message.
type EventType string

const (
	EventDial               EventType = "Dial"
	EventStasisStart        EventType = "StasisStart"
	EventStasisEnd          EventType = "StasisEnd"
	EventPlaybackStarted    EventType = "PlaybackStarted"
	EventPlaybackFinished   EventType = "PlaybackFinished"
	EventChannelStateChange EventType = "ChannelStateChange"
	EventChannelDestroyed   EventType = "ChannelDestroyed"
)

// Channel mirrors the subset of ARI's Channel object this bridge reads.
type Channel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	Dialplan     *struct {
		Context  string `json:"context"`
		Exten    string `json:"exten"`
		Priority int    `json:"priority"`
		AppName  string `json:"app_name"`
	} `json:"dialplan,omitempty"`
	Caller struct {
		Number string `json:"number"`
		Name   string `json:"name"`
	} `json:"caller"`
}

// Playback mirrors ARI's Playback object.
type Playback struct {
	ID        string `json:"id"`
	MediaURI  string `json:"media_uri"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

// Event is a parsed ARI WebSocket event. Only the fields relevant to a given
// Type are populated; callers should switch on Type before reading them.
type Event struct {
	Type        EventType `json:"type"`
	Application string    `json:"application"`

	Channel  *Channel  `json:"channel,omitempty"`
	Playback *Playback `json:"playback,omitempty"`

	// Dial-specific.
	PeerChannel *Channel `json:"peer,omitempty"`
	DialStatus  string   `json:"dialstatus,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseEvent decodes one WebSocket text frame into an Event. A frame that is
// not valid JSON returns an error; a well-formed event of an unknown type is
// returned with its Type as received (and Raw set), so the caller can
// count-and-drop it per spec §7's protocol-error policy.
func ParseEvent(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, err
	}
	evt.Raw = raw
	return &evt, nil
}

// IsExternalMediaChannel reports whether a channel id/name starts with the
// "external_" prefix that marks an ExternalMedia leg rather than a real
// caller leg (spec §4.5: "StasisStart events for channel ids prefixed
// external_ are ignored"). UnicastRTP channel names are not matched.
func IsExternalMediaChannel(idOrName string) bool {
	return len(idOrName) >= len("external_") && idOrName[:len("external_")] == "external_"
}
