package realtime

import "encoding/json"

// InboundEvent is a parsed event received from the Realtime WebSocket.
// Only the fields relevant to its Type are populated (spec §4.4).
type InboundEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.{delta,done}
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	ItemID    string `json:"item_id,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`

	Response *struct {
		ID string `json:"id"`
	} `json:"response,omitempty"`
}

// ToolDef describes one function tool exposed to the model, matching the
// Realtime API's session.update tool schema.
type ToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// VADConfig carries server-side voice-activity-detection tuning
// (spec §4.4: "threshold, prefix-padding-ms, silence-duration-ms").
type VADConfig struct {
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs    int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

func sessionUpdatePayload(cfg Config) map[string]any {
	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"voice":               cfg.Voice,
		"instructions":        cfg.Instructions,
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.VAD.Threshold,
			"prefix_padding_ms":   cfg.VAD.PrefixPaddingMs,
			"silence_duration_ms": cfg.VAD.SilenceDurationMs,
		},
	}
	if len(cfg.Tools) > 0 {
		session["tools"] = cfg.Tools
		session["tool_choice"] = "auto"
	}
	return map[string]any{
		"type":    "session.update",
		"session": session,
	}
}

func audioAppendPayload(b64 string) map[string]any {
	return map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": b64,
	}
}

func functionCallOutputPayload(callID, output string) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":     "function_call_output",
			"call_id":  callID,
			"output":   output,
		},
	}
}

func responseCreatePayload() map[string]any {
	return map[string]any{"type": "response.create"}
}

// greetingItemPayload injects the initial greeting as an assistant message
// so the model speaks it verbatim rather than treating it as a prompt to
// respond to (spec §4 item 1).
func greetingItemPayload(text string) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
}
