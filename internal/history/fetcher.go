// Package history lazily loads conversation backlogs the first time a
// conversation is selected.
package history

import (
	"fmt"

	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

// Source issues one-shot history requests. done runs later, on the control
// goroutine: its incoming error is the transport outcome, its returned
// error is a store failure and fatal.
type Source interface {
	FetchHistory(conversationID string, done func(msgs []store.Message, err error) error)
}

// Fetcher watches the selected conversation and requests its history the
// first time it is selected.
type Fetcher struct {
	db     *store.DB
	source Source
	logger *zap.Logger
}

// NewFetcher creates a fetcher requesting histories from source.
func NewFetcher(db *store.DB, source Source, logger *zap.Logger) *Fetcher {
	return &Fetcher{db: db, source: source, logger: logger}
}

// HandleChange reacts to writes of the selected-conversation setting. The
// fetched flag is set before the request goes out, so reselecting while a
// fetch is in flight cannot start a second one.
func (f *Fetcher) HandleChange(evt bus.Event) error {
	if evt.Table != store.TableSettings {
		return nil
	}
	key, err := f.db.SettingKeyByRowID(evt.RowID)
	if err != nil {
		return fmt.Errorf("resolve setting key: %w", err)
	}
	if key != store.KeySelectedConversation {
		return nil
	}

	id, err := f.db.GetString(store.KeySelectedConversation, "")
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	conv, err := f.db.GetConversation(id)
	if err != nil {
		return err
	}
	if conv == nil || conv.Fetched {
		return nil
	}
	if err := f.db.MarkFetched(id, true); err != nil {
		return err
	}

	f.logger.Info("fetching history", zap.String("conversation", id))
	f.source.FetchHistory(id, func(msgs []store.Message, err error) error {
		if err != nil {
			// Abandoned. The flag stays set until the next catalogue
			// refresh resets it, matching a send-and-forget request.
			f.logger.Error("history fetch failed",
				zap.String("conversation", id), zap.Error(err))
			return nil
		}
		if err := f.db.ReplaceHistory(id, msgs); err != nil {
			return fmt.Errorf("replace history %s: %w", id, err)
		}
		f.logger.Info("history loaded",
			zap.String("conversation", id), zap.Int("messages", len(msgs)))
		return nil
	})
	return nil
}
