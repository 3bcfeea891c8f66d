package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeToolHandler struct {
	result string
	err    error
}

func (f *fakeToolHandler) Call(ctx context.Context, name string, arguments []byte) (string, error) {
	return f.result, f.err
}

// newWSPair spins up a real WebSocket server and dials it, returning the
// client-side conn (wired into the Session under test) and the server-side
// conn (used to inspect what the Session wrote).
func newWSPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	select {
	case serverConn := <-serverConnCh:
		t.Cleanup(func() { _ = serverConn.Close() })
		return clientConn, serverConn
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the upgrade")
		return nil, nil
	}
}

func TestDispatchToolSendsOutputAndRequestsResponse(t *testing.T) {
	clientConn, serverConn := newWSPair(t)

	s := newSession(clientConn, Config{})
	s.toolHandler = &fakeToolHandler{result: "it is sunny"}

	s.wg.Add(1)
	s.dispatchTool(context.Background(), "call-1", "get_weather", `{"city":"bogota"}`)

	var output map[string]any
	if err := serverConn.ReadJSON(&output); err != nil {
		t.Fatalf("read function_call_output: %v", err)
	}
	blob, _ := json.Marshal(output)
	if !strings.Contains(string(blob), "call-1") {
		t.Errorf("function_call_output payload = %s, want it to reference call-1", blob)
	}
	if !strings.Contains(string(blob), "it is sunny") {
		t.Errorf("function_call_output payload = %s, want it to contain the tool result", blob)
	}

	var responseCreate map[string]any
	if err := serverConn.ReadJSON(&responseCreate); err != nil {
		t.Fatalf("read response.create: %v", err)
	}
	if responseCreate["type"] != "response.create" {
		t.Errorf("second payload type = %v, want response.create", responseCreate["type"])
	}
}

func TestDispatchToolSurfacesHandlerError(t *testing.T) {
	clientConn, serverConn := newWSPair(t)

	s := newSession(clientConn, Config{})
	s.toolHandler = &fakeToolHandler{err: errors.New("backend unavailable")}

	s.wg.Add(1)
	s.dispatchTool(context.Background(), "call-2", "network_info", `{}`)

	var output map[string]any
	if err := serverConn.ReadJSON(&output); err != nil {
		t.Fatalf("read function_call_output: %v", err)
	}
	blob, _ := json.Marshal(output)
	if !strings.Contains(string(blob), "could not be completed") {
		t.Errorf("function_call_output payload = %s, want the generic failure response", blob)
	}
}

func TestDispatchToolWithoutHandlerReportsNotConfigured(t *testing.T) {
	clientConn, serverConn := newWSPair(t)

	s := newSession(clientConn, Config{})
	s.toolHandler = nil

	s.wg.Add(1)
	s.dispatchTool(context.Background(), "call-3", "network_info", `{}`)

	var output map[string]any
	if err := serverConn.ReadJSON(&output); err != nil {
		t.Fatalf("read function_call_output: %v", err)
	}
	blob, _ := json.Marshal(output)
	if !strings.Contains(string(blob), "not configured") {
		t.Errorf("function_call_output payload = %s, want it to mention the backend isn't configured", blob)
	}
}

func TestDispatchToolSanitizesInvalidJSONArguments(t *testing.T) {
	clientConn, serverConn := newWSPair(t)

	var seenArgs string
	handler := &recordingHandler{onCall: func(name string, args []byte) { seenArgs = string(args) }}

	s := newSession(clientConn, Config{})
	s.toolHandler = handler

	s.wg.Add(1)
	s.dispatchTool(context.Background(), "call-4", "network_info", `not valid json`)

	var output map[string]any
	if err := serverConn.ReadJSON(&output); err != nil {
		t.Fatalf("read function_call_output: %v", err)
	}
	if seenArgs != "{}" {
		t.Errorf("arguments forwarded to handler = %q, want sanitized to {}", seenArgs)
	}
}

type recordingHandler struct {
	onCall func(name string, args []byte)
}

func (r *recordingHandler) Call(ctx context.Context, name string, arguments []byte) (string, error) {
	r.onCall(name, arguments)
	return "ok", nil
}

func TestToolResultJSONOmitsEmptyFields(t *testing.T) {
	if got := toolResultJSON("all good", ""); got != `{"response":"all good"}` {
		t.Errorf("toolResultJSON() = %s, want only response set", got)
	}
	if got := toolResultJSON("", "boom"); !strings.Contains(got, `"error":"boom"`) || !strings.Contains(got, "could not be completed") {
		t.Errorf("toolResultJSON() = %s, want error plus fallback response", got)
	}
}
