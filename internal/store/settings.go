package store

import (
	"database/sql"
	"errors"
)

// Setting keys maintained by the client. The settings table itself is
// generic key/value storage.
const (
	KeyMode                 = "mode"
	KeySelectedConversation = "selected_conversation"
	KeySearch               = "search"
	KeyInputText            = "input_text"
	KeyInputCursor          = "input_cursor"
	KeySelfUser             = "self_user"
	KeyRosterScroll         = "roster_scroll"
)

// Input modes stored under KeyMode.
const (
	ModeNormal = 0
	ModeInsert = 1
	ModeSearch = 2
)

// SetString upserts a string setting.
func (db *DB) SetString(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetString reads a string setting, returning def when the key is unset.
func (db *DB) GetString(key, def string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetInt upserts an integer setting.
func (db *DB) SetInt(key string, value int) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetInt reads an integer setting, returning def when the key is unset.
func (db *DB) GetInt(key string, def int) (int, error) {
	var v int64
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// SettingKeyByRowID resolves the key of a settings row from the rowid
// carried by a change event. Returns "" when the row no longer exists.
func (db *DB) SettingKeyByRowID(rowid int64) (string, error) {
	var k string
	err := db.QueryRow(`SELECT key FROM settings WHERE rowid = ?`, rowid).Scan(&k)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return k, nil
}
