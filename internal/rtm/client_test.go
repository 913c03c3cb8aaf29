package rtm

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/roster"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, apiBase string) (*Client, *store.DB) {
	t.Helper()
	q := bus.NewQueue()
	db, err := store.Open(filepath.Join(t.TempDir(), "slk.db"), q)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db, apiBase, "test-token", zap.NewNop()), db
}

// pollUntil pumps the client mailbox until cond holds or the deadline
// passes. The test goroutine acts as the control goroutine.
func pollUntil(t *testing.T, c *Client, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		if err := c.Poll(10 * time.Millisecond); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- frame handling ---

func TestReplyFrameResolvesPendingMessage(t *testing.T) {
	c, db := newTestClient(t, "http://unused")

	id, err := db.InsertOutgoing("C1", "U1", "hi", "1700000000")
	if err != nil {
		t.Fatal(err)
	}

	raw := fmt.Sprintf(`{"reply_to": %d, "ok": true, "text": "hi", "ts": "100"}`, id)
	if err := c.handleFrame([]byte(raw)); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	msgs, err := db.ListMessages("C1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Text != "hi" || m.TS != "100" || !m.Acknowledged || m.Pending {
		t.Errorf("after reply: text=%q ts=%q acknowledged=%v pending=%v, want hi/100/true/false",
			m.Text, m.TS, m.Acknowledged, m.Pending)
	}
}

func TestNegativeReplyLeavesRowUntouched(t *testing.T) {
	c, db := newTestClient(t, "http://unused")

	id, err := db.InsertOutgoing("C1", "U1", "rejected", "1700000000")
	if err != nil {
		t.Fatal(err)
	}

	raw := fmt.Sprintf(`{"reply_to": %d, "ok": false, "error": {"code": 2, "msg": "message text is missing"}}`, id)
	if err := c.handleFrame([]byte(raw)); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	msgs, err := db.ListMessages("C1", 0)
	if err != nil {
		t.Fatal(err)
	}
	m := msgs[0]
	if m.Text != "rejected" || m.TS != "1700000000" || m.Acknowledged || !m.Pending {
		t.Errorf("after negative reply: text=%q ts=%q acknowledged=%v pending=%v, want original row",
			m.Text, m.TS, m.Acknowledged, m.Pending)
	}
}

func TestMessagePushInsertsAcknowledgedRow(t *testing.T) {
	c, db := newTestClient(t, "http://unused")

	raw := `{"type": "message", "channel": "C1", "user": "U2", "text": "incoming", "ts": "1700000123.000200"}`
	if err := c.handleFrame([]byte(raw)); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	msgs, err := db.ListMessages("C1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.User != "U2" || m.Text != "incoming" || m.TS != "1700000123.000200" {
		t.Errorf("pushed row = %+v, want the frame payload", m)
	}
	if !m.Acknowledged || m.Pending {
		t.Error("pushed message must be acknowledged and not pending")
	}
}

func TestUnrecognizedFramesAreDropped(t *testing.T) {
	c, db := newTestClient(t, "http://unused")

	frames := []string{
		`{"type": "presence_change", "user": "U2"}`,
		`{"type": "message"}`, // no channel
		`{"foo": "bar"}`,
		`not json at all`,
	}
	for _, raw := range frames {
		if err := c.handleFrame([]byte(raw)); err != nil {
			t.Errorf("handleFrame(%q) error = %v, want dropped", raw, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("dropped frames left %d rows", count)
	}
}

// --- hello and catalogues ---

// Going live must refresh each catalogue exactly once and run the on-live
// hooks after the state flip.
func TestHelloRefreshesCataloguesOnce(t *testing.T) {
	var convCalls, userCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/conversations.list"):
			convCalls.Add(1)
			fmt.Fprint(w, `{"ok": true, "channels": [
				{"id": "C1", "name": "general", "is_member": true},
				{"id": "D1", "is_im": true, "user": "U2"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/users.list"):
			userCalls.Add(1)
			fmt.Fprint(w, `{"ok": true, "members": [{"id": "U2", "name": "ana"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, db := newTestClient(t, srv.URL)
	hookState := State("")
	c.OnLive(func() error {
		hookState = c.State()
		return nil
	})

	if err := c.machine.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame([]byte(`{"type": "hello"}`)); err != nil {
		t.Fatalf("handleFrame(hello) error = %v", err)
	}

	if c.State() != Live {
		t.Fatalf("state after hello = %v, want %v", c.State(), Live)
	}
	if hookState != Live {
		t.Errorf("on-live hook saw state %q, want LIVE after the flip", hookState)
	}

	pollUntil(t, c, 2*time.Second, "catalogues to land", func() bool {
		conv, err := db.GetConversation("C1")
		if err != nil {
			t.Fatal(err)
		}
		var userCount int
		if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&userCount); err != nil {
			t.Fatal(err)
		}
		return conv != nil && userCount == 1
	})

	if got := convCalls.Load(); got != 1 {
		t.Errorf("conversations.list called %d times, want 1", got)
	}
	if got := userCalls.Load(); got != 1 {
		t.Errorf("users.list called %d times, want 1", got)
	}

	conv, err := db.GetConversation("D1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || !conv.IsDirect || conv.CounterpartUser != "U2" {
		t.Errorf("DM mapping = %+v, want is_direct with counterpart U2", conv)
	}
}

// The users catalogue must be in the store before the conversations
// replace triggers the roster rebuild; otherwise a slow users.list leaves
// DM entries displaying raw conversation ids with nothing left in the
// queue to rebuild them.
func TestSlowUsersCatalogueStillResolvesDirectNames(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/conversations.list"):
			mu.Lock()
			order = append(order, "conversations")
			mu.Unlock()
			fmt.Fprint(w, `{"ok": true, "channels": [{"id": "D1", "is_im": true, "user": "U2"}]}`)
		case strings.HasPrefix(r.URL.Path, "/users.list"):
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			order = append(order, "users")
			mu.Unlock()
			fmt.Fprint(w, `{"ok": true, "members": [{"id": "U2", "name": "ana"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	q := bus.NewQueue()
	db, err := store.Open(filepath.Join(t.TempDir(), "slk.db"), q)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	d := bus.NewDispatcher(q)
	d.Register(roster.NewMaterializer(db, zap.NewNop()))
	c := New(db, srv.URL, "test-token", zap.NewNop())

	if err := c.machine.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame([]byte(`{"type": "hello"}`)); err != nil {
		t.Fatalf("handleFrame(hello) error = %v", err)
	}

	// Poll and drain the way the control loop does until the DM shows up
	// in the projection.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the DM roster entry")
		}
		if err := c.Poll(10 * time.Millisecond); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if _, err := d.Drain(); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		e, err := db.RosterEntryByID("D1")
		if err != nil {
			t.Fatal(err)
		}
		if e != nil {
			if e.DisplayName != "ana" {
				t.Fatalf("DM display_name = %q, want %q", e.DisplayName, "ana")
			}
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "users" || order[1] != "conversations" {
		t.Errorf("catalogue request order = %v, want [users conversations]", order)
	}
}

func TestDuplicateHelloIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	if err := c.machine.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame([]byte(`{"type": "hello"}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame([]byte(`{"type": "hello"}`)); err != nil {
		t.Fatalf("second hello error = %v, want ignored", err)
	}
	if c.State() != Live {
		t.Errorf("state = %v, want still %v", c.State(), Live)
	}
}

func TestCatalogueFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/users.list") {
			fmt.Fprint(w, `{"ok": true, "members": [{"id": "U1", "name": "ana"}]}`)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, db := newTestClient(t, srv.URL)
	if err := c.machine.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if err := c.handleFrame([]byte(`{"type": "hello"}`)); err != nil {
		t.Fatal(err)
	}

	pollUntil(t, c, 2*time.Second, "users catalogue to land", func() bool {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			t.Fatal(err)
		}
		return count == 1
	})
	if c.State() != Live {
		t.Errorf("state = %v after catalogue failure, want still %v", c.State(), Live)
	}
}

// --- handshake and channel lifecycle ---

// realtimeServer fakes the Web API plus the websocket endpoint.
type realtimeServer struct {
	srv          *httptest.Server
	connectCalls atomic.Int64
	rejectAuth   bool
	gotFrames    chan outboundMessage

	mu        sync.Mutex
	dropAfter chan struct{} // closed via dropConnections to kill live sockets
}

// dropCh snapshots the drop channel for one websocket session.
func (rs *realtimeServer) dropCh() chan struct{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.dropAfter
}

// dropConnections kills current sockets and arms a fresh channel so a
// later session can be dropped again.
func (rs *realtimeServer) dropConnections() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	close(rs.dropAfter)
	rs.dropAfter = make(chan struct{})
}

func newRealtimeServer(t *testing.T) *realtimeServer {
	rs := &realtimeServer{
		dropAfter: make(chan struct{}),
		gotFrames: make(chan outboundMessage, 16),
	}
	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/rtm.connect"):
			rs.connectCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer test-token" {
				fmt.Fprint(w, `{"ok": false, "error": "invalid_auth"}`)
				return
			}
			if rs.rejectAuth {
				fmt.Fprint(w, `{"ok": false, "error": "account_inactive"}`)
				return
			}
			wsURL := "ws" + strings.TrimPrefix(rs.srv.URL, "http") + "/rtm"
			fmt.Fprintf(w, `{"ok": true, "url": %q, "self": {"id": "U0"}}`, wsURL)
		case strings.HasPrefix(r.URL.Path, "/conversations.list"):
			fmt.Fprint(w, `{"ok": true, "channels": [{"id": "C1", "name": "general", "is_member": true}]}`)
		case strings.HasPrefix(r.URL.Path, "/users.list"):
			fmt.Fprint(w, `{"ok": true, "members": [{"id": "U0", "name": "me"}]}`)
		case r.URL.Path == "/rtm":
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer func() { _ = conn.Close() }()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "hello"}`)); err != nil {
				return
			}
			drop := rs.dropCh()
			go func() {
				<-drop
				_ = conn.Close()
			}()
			for {
				var out outboundMessage
				if err := conn.ReadJSON(&out); err != nil {
					return
				}
				rs.gotFrames <- out
				reply := fmt.Sprintf(`{"reply_to": %d, "ok": true, "text": %q, "ts": "1700000500.000100"}`, out.ID, out.Text)
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func TestConnectHandshakeToLive(t *testing.T) {
	rs := newRealtimeServer(t)
	c, db := newTestClient(t, rs.srv.URL)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != Connecting {
		t.Fatalf("state after Connect() = %v, want %v", c.State(), Connecting)
	}

	pollUntil(t, c, 5*time.Second, "channel to go live", func() bool {
		return c.State() == Live
	})

	self, err := db.GetString(store.KeySelfUser, "")
	if err != nil {
		t.Fatal(err)
	}
	if self != "U0" {
		t.Errorf("self user = %q, want U0", self)
	}
	if got := rs.connectCalls.Load(); got != 1 {
		t.Errorf("rtm.connect called %d times, want 1", got)
	}
}

func TestSendMessageRoundTrip(t *testing.T) {
	rs := newRealtimeServer(t)
	c, db := newTestClient(t, rs.srv.URL)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	pollUntil(t, c, 5*time.Second, "channel to go live", func() bool {
		return c.State() == Live
	})

	id, err := db.InsertOutgoing("C1", "U0", "round trip", "1700000000")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage(id, "C1", "round trip"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case out := <-rs.gotFrames:
		want := outboundMessage{ID: id, Channel: "C1", Type: "message", Text: "round trip"}
		if out != want {
			t.Errorf("wire frame = %+v, want %+v", out, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the outbound frame")
	}

	// The echoed reply lands through Poll and resolves the row.
	pollUntil(t, c, 5*time.Second, "reply to resolve the row", func() bool {
		msgs, err := db.ListMessages("C1", 0)
		if err != nil {
			t.Fatal(err)
		}
		return len(msgs) == 1 && msgs[0].Acknowledged
	})
	msgs, err := db.ListMessages("C1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].TS != "1700000500.000100" || msgs[0].Pending {
		t.Errorf("resolved row = %+v, want remote ts and not pending", msgs[0])
	}
}

func TestChannelLossAndManualReconnect(t *testing.T) {
	rs := newRealtimeServer(t)
	c, _ := newTestClient(t, rs.srv.URL)
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	pollUntil(t, c, 5*time.Second, "channel to go live", func() bool {
		return c.State() == Live
	})

	// Server drops the socket; the client must settle Disconnected and
	// stay there: no automatic reconnect.
	rs.dropConnections()
	pollUntil(t, c, 5*time.Second, "disconnect to settle", func() bool {
		return c.State() == Disconnected
	})
	before := rs.connectCalls.Load()
	if err := c.Poll(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got := rs.connectCalls.Load(); got != before {
		t.Errorf("client reconnected on its own: %d -> %d rtm.connect calls", before, got)
	}

	// A second handshake works on the same client.
	if err := c.Connect(); err != nil {
		t.Fatalf("reconnect Connect() error = %v", err)
	}
	pollUntil(t, c, 5*time.Second, "channel to go live again", func() bool {
		return c.State() == Live
	})
	if got := rs.connectCalls.Load(); got != before+1 {
		t.Errorf("rtm.connect called %d times, want %d", got, before+1)
	}
}

func TestRejectedHandshakeSettlesDisconnected(t *testing.T) {
	rs := newRealtimeServer(t)
	rs.rejectAuth = true
	c, _ := newTestClient(t, rs.srv.URL)

	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	pollUntil(t, c, 5*time.Second, "rejection to settle", func() bool {
		return c.State() == Disconnected
	})
}

func TestCloseDuringHandshakeOrphansCompletion(t *testing.T) {
	slow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-slow
		fmt.Fprint(w, `{"ok": true, "url": "ws://127.0.0.1:1/rtm", "self": {"id": "U0"}}`)
	}))
	defer srv.Close()

	c, db := newTestClient(t, srv.URL)
	if err := c.Connect(); err != nil {
		t.Fatal(err)
	}
	c.Close()
	if c.State() != Disconnected {
		t.Fatalf("state after Close() = %v, want %v", c.State(), Disconnected)
	}

	// Let the stale handshake response through; it must not dial or
	// record anything.
	close(slow)
	if err := c.Poll(200 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	self, err := db.GetString(store.KeySelfUser, "")
	if err != nil {
		t.Fatal(err)
	}
	if self != "" {
		t.Errorf("orphaned handshake recorded self user %q", self)
	}
	if c.State() != Disconnected {
		t.Errorf("state = %v after orphaned completion, want %v", c.State(), Disconnected)
	}
}

func TestSendMessageWithoutChannel(t *testing.T) {
	c, _ := newTestClient(t, "http://unused")
	if err := c.SendMessage(1, "C1", "nope"); err == nil {
		t.Error("SendMessage() with no channel succeeded, want error")
	}
}
