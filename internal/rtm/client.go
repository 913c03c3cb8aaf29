// Package rtm drives the realtime connection: the rtm.connect handshake,
// the persistent websocket, inbound frame handling, and the one-shot Web
// API calls that refresh catalogues and fetch history.
//
// The client never touches the store from a network goroutine. Completions
// are posted as closures to a mailbox, and Poll runs them on the control
// goroutine, so every store write in the process stays single-threaded.
package rtm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

// Client is the realtime protocol client. All exported methods except
// SendMessage and the State accessors start work; results land in the
// store through Poll.
type Client struct {
	db      *store.DB
	logger  *zap.Logger
	machine *Machine

	apiBase string
	token   string
	httpc   *http.Client

	conn *websocket.Conn

	// gen is bumped by Connect and Close. Posted completions carry the
	// generation they belong to and are dropped when it has moved on.
	gen int

	mailbox chan func() error

	onLive []func() error
}

// New creates a client against the given Web API base URL (no trailing
// slash). The HTTP client carries no timeout of its own; requests run
// until the transport gives up.
func New(db *store.DB, apiBase, token string, logger *zap.Logger) *Client {
	return &Client{
		db:      db,
		logger:  logger,
		machine: NewMachine(),
		apiBase: apiBase,
		token:   token,
		httpc:   &http.Client{},
		mailbox: make(chan func() error, 256),
	}
}

// OnLive registers a hook run right after the hello frame takes the
// channel live. Hooks run on the control goroutine; an error is fatal.
func (c *Client) OnLive(fn func() error) {
	c.onLive = append(c.onLive, fn)
}

// State returns the current channel state.
func (c *Client) State() State {
	return c.machine.Current()
}

// Live reports whether the channel can carry sends.
func (c *Client) Live() bool {
	return c.machine.Current() == Live
}

// Poll runs queued completions on the calling goroutine for at most max.
func (c *Client) Poll(max time.Duration) error {
	timer := time.NewTimer(max)
	defer timer.Stop()
	for {
		select {
		case fn := <-c.mailbox:
			if err := fn(); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		}
	}
}

// post hands a completion to the control goroutine. Blocks when the
// mailbox is full, which backpressures the network goroutines instead of
// dropping frames.
func (c *Client) post(fn func() error) {
	c.mailbox <- fn
}

// Connect starts the handshake: a one-shot rtm.connect, then the websocket
// dial. The channel is unusable until the hello frame arrives; Connect
// returns as soon as the handshake is in flight.
func (c *Client) Connect() error {
	if err := c.machine.Transition(Connecting); err != nil {
		return err
	}
	c.gen++
	id := c.gen
	c.logger.Info("starting handshake")
	var resp connectResponse
	c.oneShot("/rtm.connect", &resp, func(err error) error {
		if c.gen != id {
			return nil
		}
		return c.finishHandshake(id, resp, err)
	})
	return nil
}

// Close tears the channel down deliberately. In-flight dials, reads, and
// one-shot completions are orphaned by the generation bump. Pending
// messages stay queued in the store.
func (c *Client) Close() {
	switch c.machine.Current() {
	case Connecting, Live:
	default:
		return
	}
	_ = c.machine.Transition(Closing)
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	_ = c.machine.Transition(Disconnected)
	c.logger.Info("channel closed")
}

// fail drops to Disconnected through Error after a handshake or channel
// failure. There is no automatic reconnect; the user retries by hand.
func (c *Client) fail() {
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	_ = c.machine.Transition(Error)
	_ = c.machine.Transition(Disconnected)
}

func (c *Client) finishHandshake(id int, resp connectResponse, err error) error {
	if err == nil && !resp.OK {
		err = fmt.Errorf("rtm.connect rejected: %q", resp.Error)
	}
	if err != nil {
		c.logger.Error("handshake failed", zap.Error(err))
		c.fail()
		return nil
	}
	if err := c.db.SetString(store.KeySelfUser, resp.Self.ID); err != nil {
		return fmt.Errorf("record self user: %w", err)
	}
	c.logger.Info("handshake complete", zap.String("self", resp.Self.ID))
	c.dial(id, resp.URL)
	return nil
}

func (c *Client) dial(id int, wsURL string) {
	header := http.Header{"Authorization": {"Bearer " + c.token}}
	go func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		c.post(func() error {
			if c.gen != id {
				if conn != nil {
					_ = conn.Close()
				}
				return nil
			}
			if err != nil {
				c.logger.Error("channel dial failed", zap.Error(err))
				c.fail()
				return nil
			}
			c.conn = conn
			c.logger.Info("channel open, waiting for hello")
			go c.readLoop(id, conn)
			return nil
		})
	}()
}

// readLoop is the only reader of the websocket. Frames and the terminal
// read error are posted back to the control goroutine.
func (c *Client) readLoop(id int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() error {
				if c.gen != id {
					return nil
				}
				c.logger.Warn("channel lost", zap.Error(err))
				c.fail()
				return nil
			})
			return
		}
		c.post(func() error {
			if c.gen != id {
				return nil
			}
			return c.handleFrame(data)
		})
	}
}

// handleFrame classifies one inbound frame: a correlated reply to a sent
// message, or a typed push. Anything unrecognized is logged and dropped.
func (c *Client) handleFrame(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Info("unparseable frame dropped", zap.Error(err), zap.ByteString("frame", data))
		return nil
	}
	if f.ReplyTo > 0 {
		return c.handleReply(f)
	}
	switch f.Type {
	case "hello":
		return c.handleHello()
	case "message":
		return c.handleMessagePush(f)
	case "":
		c.logger.Info("frame with no type dropped", zap.ByteString("frame", data))
	default:
		c.logger.Debug("unhandled frame type", zap.String("type", f.Type))
	}
	return nil
}

func (c *Client) handleReply(f frame) error {
	if !f.OK {
		// The provisional row keeps its text and stays unacknowledged;
		// the dimmed rendering is the visible failure signal.
		c.logger.Warn("send rejected",
			zap.Int64("message_id", f.ReplyTo), zap.ByteString("error", f.Error))
		return nil
	}
	if err := c.db.ApplyReply(f.ReplyTo, f.TS, f.Text); err != nil {
		return fmt.Errorf("apply reply %d: %w", f.ReplyTo, err)
	}
	c.logger.Debug("send acknowledged", zap.Int64("message_id", f.ReplyTo))
	return nil
}

// handleHello gates Live on the server's hello, then kicks off the
// catalogue refreshes and the on-live hooks.
func (c *Client) handleHello() error {
	if err := c.machine.Transition(Live); err != nil {
		c.logger.Warn("hello in unexpected state", zap.String("state", string(c.machine.Current())))
		return nil
	}
	c.logger.Info("channel live")
	// Users first, conversations from its completion. The conversations
	// replace is what rebuilds the roster, so user names must already be
	// in the store when it lands or DM entries would show raw ids until
	// the next rebuild.
	c.fetchUsers(c.fetchConversations)
	for _, fn := range c.onLive {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleMessagePush(f frame) error {
	if f.Channel == "" {
		c.logger.Debug("message push without channel dropped")
		return nil
	}
	err := c.db.InsertIncoming(&store.Message{
		Conversation: f.Channel,
		Type:         f.Type,
		User:         f.User,
		Text:         f.Text,
		TS:           f.TS,
	})
	if err != nil {
		return fmt.Errorf("insert pushed message: %w", err)
	}
	return nil
}

// fetchConversations refreshes the conversations catalogue: always a full
// replace, never a merge.
func (c *Client) fetchConversations() {
	var resp conversationsResponse
	c.oneShot("/conversations.list?types=public_channel,private_channel,mpim,im&limit=1000&exclude_archived=true", &resp, func(err error) error {
		if err != nil {
			c.logger.Error("conversations catalogue failed", zap.Error(err))
			return nil
		}
		if !resp.OK {
			c.logger.Error("conversations catalogue rejected", zap.String("error", resp.Error))
			return nil
		}
		convs := make([]store.Conversation, 0, len(resp.Channels))
		for _, ch := range resp.Channels {
			convs = append(convs, store.Conversation{
				ID:              ch.ID,
				Name:            ch.Name,
				IsMember:        ch.IsMember,
				IsDirect:        ch.IsIM,
				CounterpartUser: ch.User,
			})
		}
		if err := c.db.ReplaceConversations(convs); err != nil {
			return fmt.Errorf("replace conversations: %w", err)
		}
		c.logger.Info("conversations catalogue replaced", zap.Int("count", len(convs)))
		return nil
	})
}

// fetchUsers refreshes the users catalogue the same way, then starts
// next. The chain runs even when this catalogue is abandoned; missing
// users only cost display names, not conversations.
func (c *Client) fetchUsers(next func()) {
	var resp usersResponse
	c.oneShot("/users.list", &resp, func(err error) error {
		if err != nil {
			c.logger.Error("users catalogue failed", zap.Error(err))
			next()
			return nil
		}
		if !resp.OK {
			c.logger.Error("users catalogue rejected", zap.String("error", resp.Error))
			next()
			return nil
		}
		users := make([]store.User, 0, len(resp.Members))
		for _, m := range resp.Members {
			users = append(users, store.User{ID: m.ID, Name: m.Name})
		}
		if err := c.db.ReplaceUsers(users); err != nil {
			return fmt.Errorf("replace users: %w", err)
		}
		c.logger.Info("users catalogue replaced", zap.Int("count", len(users)))
		next()
		return nil
	})
}

// FetchHistory requests a conversation's backlog. done runs on the control
// goroutine with the messages or the transport error.
func (c *Client) FetchHistory(conversationID string, done func(msgs []store.Message, err error) error) {
	var resp historyResponse
	c.oneShot("/conversations.history?channel="+url.QueryEscape(conversationID), &resp, func(err error) error {
		if err != nil {
			return done(nil, err)
		}
		if !resp.OK {
			return done(nil, fmt.Errorf("conversations.history rejected: %q", resp.Error))
		}
		msgs := make([]store.Message, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			msgs = append(msgs, store.Message{
				Type: m.Type,
				User: m.User,
				Text: m.Text,
				TS:   m.TS,
			})
		}
		return done(msgs, nil)
	})
}

// SendMessage writes one outbound frame on the open channel. The write is
// fire-and-forget; the acknowledgment arrives as a reply frame.
func (c *Client) SendMessage(id int64, conversation, text string) error {
	if c.conn == nil {
		return fmt.Errorf("channel not open")
	}
	return c.conn.WriteJSON(outboundMessage{
		ID:      id,
		Channel: conversation,
		Type:    "message",
		Text:    text,
	})
}

// oneShot runs a Web API GET off the control goroutine and posts its
// completion. Each request carries its own id for log correlation.
func (c *Client) oneShot(path string, out any, done func(err error) error) {
	reqID := uuid.New().String()
	c.logger.Debug("one-shot request", zap.String("request_id", reqID), zap.String("path", path))
	go func() {
		err := c.getJSON(path, out)
		c.post(func() error {
			if err != nil {
				c.logger.Debug("one-shot finished", zap.String("request_id", reqID), zap.Error(err))
			}
			return done(err)
		})
	}()
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
