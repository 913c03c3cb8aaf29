package store

// Conversation is one entry of the remote conversation catalogue: a
// channel, a group, or a direct-message pairing.
type Conversation struct {
	ID              string
	Name            string
	IsMember        bool
	IsDirect        bool
	CounterpartUser string // other party's user id for DMs, empty otherwise
	Fetched         bool
}

// User is one entry of the remote user catalogue.
type User struct {
	ID   string
	Name string
}

// Message represents a stored message row.
type Message struct {
	ID           int64
	Conversation string
	Type         string
	User         string // author user id, may be empty
	Text         string
	TS           string // remote timestamp, opaque decimal string
	Pending      bool
	Acknowledged bool
}

// DisplayMessage is a message joined with its resolved author name.
type DisplayMessage struct {
	Message
	Author string
}

// RosterEntry is one node of the derived conversation chain. Next and Prev
// are conversation ids, empty at the tail and head respectively. Rank is
// the zero-based position in display order.
type RosterEntry struct {
	ID          string
	Next        string
	Prev        string
	Rank        int
	DisplayName string
}
