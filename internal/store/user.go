package store

import "fmt"

// ReplaceUsers swaps the users table for the given catalogue in one
// transaction.
func (db *DB) ReplaceUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// WHERE 1 keeps the deletes visible to the update hook.
	if _, err := tx.Exec(`DELETE FROM users WHERE 1`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}
	for _, u := range users {
		if _, err := tx.Exec(`INSERT INTO users (id, name) VALUES (?, ?)`, u.ID, u.Name); err != nil {
			return fmt.Errorf("insert user %q: %w", u.ID, err)
		}
	}
	return tx.Commit()
}
