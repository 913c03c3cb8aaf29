// Package roster derives the conversation projection that the UI walks:
// which conversations are visible under the current membership and search
// filter, in what order, linked as a chain.
package roster

import (
	"fmt"

	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

// Materializer keeps the roster table consistent with the conversations
// catalogue and the search setting. It rebuilds the whole projection on
// every relevant change; at a single user's conversation count a full
// rebuild costs less than getting an incremental diff wrong.
type Materializer struct {
	db     *store.DB
	logger *zap.Logger
}

// NewMaterializer creates a materializer over the given store.
func NewMaterializer(db *store.DB, logger *zap.Logger) *Materializer {
	return &Materializer{db: db, logger: logger}
}

// HandleChange rebuilds the roster when a conversation row or the search
// setting changed. Roster writes themselves never match, so a rebuild
// cannot retrigger itself through the queue.
func (m *Materializer) HandleChange(evt bus.Event) error {
	switch evt.Table {
	case store.TableConversations:
		return m.Rebuild()
	case store.TableSettings:
		key, err := m.db.SettingKeyByRowID(evt.RowID)
		if err != nil {
			return fmt.Errorf("resolve setting key: %w", err)
		}
		if key != store.KeySearch {
			return nil
		}
		return m.Rebuild()
	}
	return nil
}

// Rebuild recomputes the projection from scratch: filter the catalogue,
// order by display name, link the survivors into a doubly-linked chain
// with zero-based ranks, and swap the table in one transaction.
func (m *Materializer) Rebuild() error {
	search, err := m.db.GetString(store.KeySearch, "")
	if err != nil {
		return fmt.Errorf("read search filter: %w", err)
	}
	entries, err := m.db.VisibleConversations(search)
	if err != nil {
		return fmt.Errorf("query visible conversations: %w", err)
	}
	for i := range entries {
		entries[i].Rank = i
		if i > 0 {
			entries[i].Prev = entries[i-1].ID
		}
		if i < len(entries)-1 {
			entries[i].Next = entries[i+1].ID
		}
	}
	if err := m.db.ReplaceRoster(entries); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}
	m.logger.Debug("roster rebuilt",
		zap.Int("entries", len(entries)),
		zap.String("search", search),
	)
	return nil
}
