package rtm

import "encoding/json"

// frame is the inbound realtime envelope, decoded loosely: a reply_to
// marks a send acknowledgment, otherwise type selects the handler.
type frame struct {
	Type    string          `json:"type"`
	ReplyTo int64           `json:"reply_to"`
	OK      bool            `json:"ok"`
	TS      string          `json:"ts"`
	Text    string          `json:"text"`
	Channel string          `json:"channel"`
	User    string          `json:"user"`
	Error   json.RawMessage `json:"error"`
}

// outboundMessage is the frame written for each transmitted message. The
// id echoes back as reply_to on the acknowledgment.
type outboundMessage struct {
	ID      int64  `json:"id"`
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

// connectResponse is the rtm.connect handshake response.
type connectResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	URL   string `json:"url"`
	Self  struct {
		ID string `json:"id"`
	} `json:"self"`
}

// conversationsResponse is the conversations.list response.
type conversationsResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Channels []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsMember bool   `json:"is_member"`
		IsIM     bool   `json:"is_im"`
		User     string `json:"user"`
	} `json:"channels"`
}

// usersResponse is the users.list response.
type usersResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Members []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"members"`
}

// historyResponse is the conversations.history response.
type historyResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Messages []struct {
		Type string `json:"type"`
		User string `json:"user"`
		Text string `json:"text"`
		TS   string `json:"ts"`
	} `json:"messages"`
}
