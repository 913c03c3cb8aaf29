package store

import "fmt"

// InsertOutgoing creates a locally-authored message queued for
// transmission: pending and unacknowledged. Returns the assigned row id,
// which doubles as the wire correlation id.
func (db *DB) InsertOutgoing(conversation, author, text, ts string) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO messages (conversation, type, user, text, ts, pending, acknowledged)
		VALUES (?, 'message', NULLIF(?, ''), ?, ?, 1, 0)`,
		conversation, author, text, ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertIncoming stores a message pushed over the realtime channel. Remote
// messages are acknowledged by definition and never pending.
func (db *DB) InsertIncoming(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation, type, user, text, ts, pending, acknowledged)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, 0, 1)`,
		m.Conversation, m.Type, m.User, m.Text, m.TS)
	return err
}

// ApplyReply resolves a send acknowledgment: the remote-assigned timestamp
// and canonical text overwrite the provisional row, which becomes
// acknowledged and stops being pending. A reply for an unknown id updates
// nothing.
func (db *DB) ApplyReply(id int64, ts, text string) error {
	_, err := db.Exec(`
		UPDATE messages SET ts = ?, text = ?, acknowledged = 1, pending = 0
		WHERE id = ?`, ts, text, id)
	return err
}

// PendingMessages returns every queued outbound message, oldest first.
func (db *DB) PendingMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation, type, COALESCE(user, ''), text, ts, pending, acknowledged
		FROM messages WHERE pending = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Conversation, &m.Type, &m.User, &m.Text, &m.TS, &m.Pending, &m.Acknowledged); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearPending marks every pending message as transmitted in a single
// statement, one change event per cleared row.
func (db *DB) ClearPending() error {
	_, err := db.Exec(`UPDATE messages SET pending = 0 WHERE pending = 1`)
	return err
}

// ReplaceHistory swaps one conversation's messages for the fetched history
// in a single transaction. Other conversations are untouched.
func (db *DB) ReplaceHistory(conversation string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation = ?`, conversation); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation, type, user, text, ts, pending, acknowledged)
			VALUES (?, ?, NULLIF(?, ''), ?, ?, 0, 1)`,
			conversation, m.Type, m.User, m.Text, m.TS); err != nil {
			return fmt.Errorf("insert history message: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages newest first, with the
// author resolved user name -> raw user id -> "???" at read time.
func (db *DB) ListMessages(conversation string, limit int) ([]DisplayMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT m.id, m.conversation, m.type, COALESCE(m.user, ''), m.text, m.ts, m.pending, m.acknowledged,
			COALESCE(NULLIF(u.name, ''), m.user, '???')
		FROM messages m
		LEFT JOIN users u ON u.id = m.user
		WHERE m.conversation = ?
		ORDER BY m.ts DESC, m.id DESC
		LIMIT ?`, conversation, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []DisplayMessage
	for rows.Next() {
		var m DisplayMessage
		if err := rows.Scan(&m.ID, &m.Conversation, &m.Type, &m.User, &m.Text, &m.TS, &m.Pending, &m.Acknowledged, &m.Author); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
