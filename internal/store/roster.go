package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// VisibleConversations returns the conversations that belong in the roster
// under the given search filter, in display order. A conversation is
// visible when the user is a member or it is a direct message, and its
// display name contains search as a case-sensitive substring. Direct
// messages display as the counterpart user's name when one is known.
//
// instr() keeps the match case-sensitive; LIKE would fold ASCII case.
func (db *DB) VisibleConversations(search string) ([]RosterEntry, error) {
	rows, err := db.Query(`
		SELECT c.id,
			COALESCE(NULLIF(u.name, ''), NULLIF(c.name, ''), c.id) AS display_name
		FROM conversations c
		LEFT JOIN users u ON c.is_direct = 1 AND u.id = c.counterpart_user
		WHERE (c.is_member = 1 OR c.is_direct = 1)
			AND (? = '' OR instr(COALESCE(NULLIF(u.name, ''), NULLIF(c.name, ''), c.id), ?) > 0)
		ORDER BY display_name ASC, c.id ASC`, search, search)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []RosterEntry
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.DisplayName); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceRoster swaps the projection for the given chain in one
// transaction. Entries must already carry their rank and neighbor links.
func (db *DB) ReplaceRoster(entries []RosterEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// WHERE 1 keeps the deletes visible to the update hook.
	if _, err := tx.Exec(`DELETE FROM roster WHERE 1`); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO roster (id, next, prev, rank, display_name)
			VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
			e.ID, e.Next, e.Prev, e.Rank, e.DisplayName); err != nil {
			return fmt.Errorf("insert roster entry %q: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// RosterEntries returns the projection in rank order.
func (db *DB) RosterEntries() ([]RosterEntry, error) {
	rows, err := db.Query(`
		SELECT id, COALESCE(next, ''), COALESCE(prev, ''), rank, display_name
		FROM roster ORDER BY rank ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []RosterEntry
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.ID, &e.Next, &e.Prev, &e.Rank, &e.DisplayName); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RosterEntryByID returns one roster entry, or nil when the conversation
// is not part of the projection.
func (db *DB) RosterEntryByID(id string) (*RosterEntry, error) {
	var e RosterEntry
	err := db.QueryRow(`
		SELECT id, COALESCE(next, ''), COALESCE(prev, ''), rank, display_name
		FROM roster WHERE id = ?`, id).
		Scan(&e.ID, &e.Next, &e.Prev, &e.Rank, &e.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RosterHead returns the first entry of the chain, or nil when the roster
// is empty.
func (db *DB) RosterHead() (*RosterEntry, error) {
	var e RosterEntry
	err := db.QueryRow(`
		SELECT id, COALESCE(next, ''), COALESCE(prev, ''), rank, display_name
		FROM roster WHERE prev IS NULL`).
		Scan(&e.ID, &e.Next, &e.Prev, &e.Rank, &e.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// NextConversation resolves the id to select when navigating down from
// current: the next chain node, current itself at the tail, or the head
// when current has dropped out of the projection.
func (db *DB) NextConversation(current string) (string, error) {
	e, err := db.RosterEntryByID(current)
	if err != nil {
		return "", err
	}
	if e == nil {
		head, err := db.RosterHead()
		if err != nil || head == nil {
			return "", err
		}
		return head.ID, nil
	}
	if e.Next == "" {
		return e.ID, nil
	}
	return e.Next, nil
}

// PrevConversation mirrors NextConversation, walking prev links.
func (db *DB) PrevConversation(current string) (string, error) {
	e, err := db.RosterEntryByID(current)
	if err != nil {
		return "", err
	}
	if e == nil {
		head, err := db.RosterHead()
		if err != nil || head == nil {
			return "", err
		}
		return head.ID, nil
	}
	if e.Prev == "" {
		return e.ID, nil
	}
	return e.Prev, nil
}
