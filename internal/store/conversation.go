package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ReplaceConversations swaps the conversations table for the given
// catalogue in one transaction. Incoming rows start unfetched, so a
// catalogue refresh also resets history-fetch state.
func (db *DB) ReplaceConversations(convs []Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The WHERE defeats sqlite's truncate optimization. Without it the
	// update hook never sees the removed rows, and a catalogue that
	// shrank to zero would emit no events at all.
	if _, err := tx.Exec(`DELETE FROM conversations WHERE 1`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, name, is_member, is_direct, counterpart_user)
			VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
			c.ID, c.Name, c.IsMember, c.IsDirect, c.CounterpartUser); err != nil {
			return fmt.Errorf("insert conversation %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetConversation returns a single conversation by id, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, name, is_member, is_direct, COALESCE(counterpart_user, ''), fetched
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IsMember, &c.IsDirect, &c.CounterpartUser, &c.Fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkFetched sets a conversation's history-fetched flag.
func (db *DB) MarkFetched(id string, fetched bool) error {
	_, err := db.Exec(`UPDATE conversations SET fetched = ? WHERE id = ?`, fetched, id)
	return err
}

// ResetFetchFlags clears every fetched flag. Runs at startup so a crash
// between a history request and its response cannot leave a conversation
// permanently unfetchable.
func (db *DB) ResetFetchFlags() error {
	_, err := db.Exec(`UPDATE conversations SET fetched = 0 WHERE fetched = 1`)
	return err
}
