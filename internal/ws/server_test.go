package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planning-poker/planpoker/internal/config"
	"github.com/planning-poker/planpoker/internal/poker"
	"github.com/planning-poker/planpoker/internal/protocol"
)

type testServer struct {
	srv         *httptest.Server
	dispatcher  *poker.Dispatcher
	broadcaster *Broadcaster
}

func newTestServer(t *testing.T, opts poker.Options) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Broadcast.Throttle = 5 * time.Millisecond
	cfg.Broadcast.ResyncInterval = 0

	dispatcher := poker.NewDispatcher(poker.NewSession(opts), nil)
	broadcaster := NewBroadcaster(dispatcher, OptionsFromConfig(cfg))
	dispatcher.SetPublisher(broadcaster)
	broadcaster.SetOnDrop(dispatcher.Disconnect)

	srv := httptest.NewServer(NewServer(cfg, dispatcher, broadcaster, nil).Handler())
	t.Cleanup(func() {
		broadcaster.Stop()
		srv.Close()
	})
	return &testServer{srv: srv, dispatcher: dispatcher, broadcaster: broadcaster}
}

func (ts *testServer) post(t *testing.T, body string) (int, protocol.ServerResponse) {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+"/request", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /request: %v", err)
	}
	defer resp.Body.Close()

	var sr protocol.ServerResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, sr
}

func (ts *testServer) dial(t *testing.T, voter string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/webSocket/" + voter
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

// readUntil reads pushed updates until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.ServerUpdate) bool) protocol.ServerUpdate {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		u := mustReadUpdate(t, conn)
		if match(u) {
			return u
		}
	}
	t.Fatal("expected update never arrived")
	return protocol.ServerUpdate{}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestHandleRequest(t *testing.T) {
	ts := newTestServer(t, poker.Options{AutoEndVote: true})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  bool
	}{
		{"join", `{"requestType":"join","voterName":"alice"}`, http.StatusOK, false},
		{"duplicate join", `{"requestType":"join","voterName":"alice"}`, http.StatusOK, true},
		{"unknown voter", `{"requestType":"startVote","voterName":"ghost"}`, http.StatusOK, true},
		{"start", `{"requestType":"startVote","voterName":"alice"}`, http.StatusOK, false},
		{"vote out of range", `{"requestType":"vote","voterName":"alice","vote":12}`, http.StatusBadRequest, true},
		{"unknown type", `{"requestType":"bump","voterName":"alice","info":"bob"}`, http.StatusBadRequest, true},
		{"blank voter", `{"requestType":"refresh","voterName":"  "}`, http.StatusBadRequest, true},
		{"not json", `requestType=join`, http.StatusBadRequest, true},
		{"vote", `{"requestType":"vote","voterName":"alice","vote":5}`, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.post(t, tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %v, want %v (message %q)", resp.Error, tt.wantError, resp.Message)
			}
			if !tt.wantError && resp.Message != "OK" {
				t.Errorf("message = %q, want OK", resp.Message)
			}
		})
	}

	snap := ts.dispatcher.Snapshot()
	if snap.Status != poker.Closed || !snap.HasAverage || snap.Average != 5 {
		t.Errorf("final snapshot = %+v, want closed with average 5", snap)
	}
}

func TestRequestEndpointRejectsGet(t *testing.T) {
	ts := newTestServer(t, poker.Options{})

	resp, err := http.Get(ts.srv.URL + "/request")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /request = %d, want 405", resp.StatusCode)
	}
}

func TestWebSocketRequiresJoin(t *testing.T) {
	ts := newTestServer(t, poker.Options{})

	_, resp, err := ts.dial(t, "ghost")
	if err == nil {
		t.Fatal("dial succeeded for a voter that never joined")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %v, want 404", resp)
	}
}

func TestWebSocketPushesUpdates(t *testing.T) {
	ts := newTestServer(t, poker.Options{AutoEndVote: true})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)
	ts.post(t, `{"requestType":"join","voterName":"bob"}`)

	conn, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	first := mustReadUpdate(t, conn)
	if len(first.Voters) != 2 {
		t.Fatalf("first update has %d voters, want 2", len(first.Voters))
	}
	readUntil(t, conn, func(u protocol.ServerUpdate) bool {
		return u.Message == "A voter connected: alice"
	})

	ts.post(t, `{"requestType":"startVote","voterName":"alice"}`)
	readUntil(t, conn, func(u protocol.ServerUpdate) bool {
		return u.Status() == poker.InProgress
	})

	ts.post(t, `{"requestType":"vote","voterName":"alice","vote":3}`)
	ts.post(t, `{"requestType":"vote","voterName":"bob","vote":8}`)
	u := readUntil(t, conn, func(u protocol.ServerUpdate) bool {
		return u.Status() == poker.Closed
	})
	if avg, ok := u.Average(); !ok || avg != 6 {
		t.Errorf("average = %d (%v), want 6", avg, ok)
	}
	if u.Message != "Voting complete." {
		t.Errorf("message = %q", u.Message)
	}
}

func TestWebSocketRefreshReachesRequesterOnly(t *testing.T) {
	ts := newTestServer(t, poker.Options{})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)
	ts.post(t, `{"requestType":"join","voterName":"bob"}`)

	alice, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, alice, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })

	bob, _, err := ts.dial(t, "bob")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, bob, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: bob" })
	readUntil(t, alice, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: bob" })

	ts.post(t, `{"requestType":"refresh","voterName":"alice"}`)
	if u := mustReadUpdate(t, alice); u.Message != "A voter connected: bob" {
		t.Errorf("refresh delivered %q", u.Message)
	}
	expectSilence(t, bob, 100*time.Millisecond)
}

func TestWebSocketCloseMarksDisconnected(t *testing.T) {
	ts := newTestServer(t, poker.Options{DisconnectPolicy: poker.DisconnectMark})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	conn, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := ts.dispatcher.Snapshot()
		if len(snap.Voters) == 1 && !snap.Voters[0].Connected {
			if snap.Message != "A voter disconnected: alice" {
				t.Errorf("message = %q", snap.Message)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("voter still connected after close")
}

func TestWebSocketCloseRemovesVoter(t *testing.T) {
	ts := newTestServer(t, poker.Options{DisconnectPolicy: poker.DisconnectRemove})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	conn, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !ts.dispatcher.Joined("alice") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("voter not removed after abnormal close")
}

func TestReconnectKeepsVoterConnected(t *testing.T) {
	ts := newTestServer(t, poker.Options{})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	first, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, first, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })

	second, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	mustReadUpdate(t, second)

	// The server closes the replaced channel; that must not count as alice
	// disconnecting.
	for {
		if _, err := readUpdate(t, first, 2*time.Second); err != nil {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)

	snap := ts.dispatcher.Snapshot()
	if len(snap.Voters) != 1 || !snap.Voters[0].Connected {
		t.Errorf("voters after reconnect = %+v", snap.Voters)
	}
	if ts.broadcaster.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", ts.broadcaster.ClientCount())
	}
}

// drainUntilClosed reads pushed updates until the server closes the channel
// and returns the close error along with every update seen before it.
func drainUntilClosed(t *testing.T, conn *websocket.Conn) ([]protocol.ServerUpdate, error) {
	t.Helper()
	var seen []protocol.ServerUpdate
	for {
		u, err := readUpdate(t, conn, 2*time.Second)
		if err != nil {
			return seen, err
		}
		seen = append(seen, u)
	}
}

func TestDepartedVoterReceivesNoUpdates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"leave", `{"requestType":"leave","voterName":"alice"}`},
		{"drop", `{"requestType":"dropVoter","voterName":"bob","info":"alice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, poker.Options{})
			ts.post(t, `{"requestType":"join","voterName":"alice"}`)
			ts.post(t, `{"requestType":"join","voterName":"bob"}`)

			conn, _, err := ts.dial(t, "alice")
			if err != nil {
				t.Fatal(err)
			}
			readUntil(t, conn, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })

			if _, sr := ts.post(t, tt.body); sr.Error {
				t.Fatalf("%s failed: %s", tt.name, sr.Message)
			}
			ts.post(t, `{"requestType":"startVote","voterName":"bob"}`)

			seen, err := drainUntilClosed(t, conn)
			if !websocket.IsCloseError(err, protocol.CloseRemoved) {
				t.Errorf("channel ended with %v, want close %d", err, protocol.CloseRemoved)
			}
			for _, u := range seen {
				if u.Status() == poker.InProgress {
					t.Errorf("departed alice received %q", u.Message)
				}
			}
			if n := ts.broadcaster.ClientCount(); n != 0 {
				t.Errorf("ClientCount = %d after alice departed", n)
			}
		})
	}
}

func TestStaleChannelCloseKeepsRejoinedVoter(t *testing.T) {
	ts := newTestServer(t, poker.Options{DisconnectPolicy: poker.DisconnectRemove})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	old, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatal(err)
	}
	readUntil(t, old, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })

	ts.post(t, `{"requestType":"leave","voterName":"alice"}`)
	if _, sr := ts.post(t, `{"requestType":"join","voterName":"alice"}`); sr.Error {
		t.Fatalf("rejoin failed: %s", sr.Message)
	}

	// The first registration's channel goes away after the rejoin.
	_ = old.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	old.Close()
	time.Sleep(100 * time.Millisecond)

	if !ts.dispatcher.Joined("alice") {
		t.Fatal("rejoined alice was removed when her old channel closed")
	}

	conn, _, err := ts.dial(t, "alice")
	if err != nil {
		t.Fatalf("dial after rejoin: %v", err)
	}
	readUntil(t, conn, func(u protocol.ServerUpdate) bool { return u.Message == "A voter connected: alice" })
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, poker.Options{})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	resp, err := http.Get(ts.srv.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var u protocol.ServerUpdate
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		t.Fatal(err)
	}
	if len(u.Voters) != 1 || u.Voters[0].Name != "alice" || u.Voters[0].Vote != protocol.Sentinel {
		t.Errorf("session = %+v", u)
	}
	if u.AverageVote != protocol.Sentinel {
		t.Errorf("AverageVote = %d, want sentinel", u.AverageVote)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, poker.Options{})
	ts.post(t, `{"requestType":"join","voterName":"alice"}`)

	resp, err := http.Get(ts.srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["voters"] != float64(1) || body["round"] != "no_vote" {
		t.Errorf("health = %v", body)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "poker:40080", true},
		{"same host", nil, "http://poker:40080", "poker:40080", true},
		{"localhost", nil, "http://localhost:5173", "poker:40080", true},
		{"loopback v6", nil, "http://[::1]:3000", "poker:40080", true},
		{"foreign", nil, "https://evil.example", "poker:40080", false},
		{"allowlisted", []string{"https://team.example"}, "https://team.example", "poker:40080", true},
		{"allowlist excludes localhost", []string{"https://team.example"}, "http://localhost:5173", "poker:40080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.AllowedOrigins = tt.allowed
			s := NewServer(cfg, nil, nil, nil)

			r := httptest.NewRequest(http.MethodGet, "/webSocket/alice", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
