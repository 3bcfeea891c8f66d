package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// toolExecutionTimeout bounds one tool call's execution; the HTTP request a
// tool backend issues may itself run longer (spec §5: "tool execution 60s
// (HTTP request 70s)") — that budget belongs to the backend client, not
// here.
const toolExecutionTimeout = 60 * time.Second

// dispatchTool runs one tool invocation on its own goroutine, independent of
// the WS reader, so ping/pong keeps flowing during a slow backend call
// (spec §4.4, §9). The result is always sent back, success or failure.
func (s *Session) dispatchTool(parentCtx context.Context, callID, name, rawArgs string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(parentCtx, toolExecutionTimeout)
	defer cancel()

	args := []byte(rawArgs)
	if !json.Valid(args) {
		args = []byte("{}")
	}

	var result string
	if s.toolHandler == nil {
		result = toolResultJSON("", "tool backend not configured")
	} else {
		out, err := s.toolHandler.Call(ctx, name, args)
		if err != nil {
			slog.Warn("[Realtime] Tool call failed", "call_id", callID, "name", name, "error", err)
			result = toolResultJSON("", err.Error())
		} else {
			result = toolResultJSON(out, "")
		}
	}

	if err := s.writeJSON(functionCallOutputPayload(callID, result)); err != nil {
		slog.Debug("[Realtime] Failed to send function_call_output", "call_id", callID, "error", err)
		return
	}
	if err := s.writeJSON(responseCreatePayload()); err != nil {
		slog.Debug("[Realtime] Failed to send response.create", "call_id", callID, "error", err)
	}
}

// toolResultJSON packages a tool's outcome as {response, error} so the
// model can surface a spoken apology on failure (spec §4.4, §7).
func toolResultJSON(response, errMsg string) string {
	out := map[string]string{}
	if response != "" {
		out["response"] = response
	}
	if errMsg != "" {
		out["error"] = errMsg
		if response == "" {
			out["response"] = "The request could not be completed."
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return `{"error":"internal"}`
	}
	return string(b)
}
