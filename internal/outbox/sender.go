// Package outbox flushes locally-composed messages over the realtime
// channel. Messages are written to the store first and transmitted from
// there, so composing works the same whether the channel is up or not.
package outbox

import (
	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

// Channel is the transmit surface the sender needs: whether sends are
// possible right now, and the send itself. Sends are fire-and-forget; the
// acknowledgment arrives later as a reply frame keyed by the message id.
type Channel interface {
	Live() bool
	SendMessage(id int64, conversation, text string) error
}

// Sender watches for message inserts and transmits whatever is pending.
type Sender struct {
	db      *store.DB
	channel Channel
	logger  *zap.Logger
}

// NewSender creates a sender transmitting over channel.
func NewSender(db *store.DB, channel Channel, logger *zap.Logger) *Sender {
	return &Sender{db: db, channel: channel, logger: logger}
}

// HandleChange flushes on any insert into the messages table. Remote
// inserts trigger a scan too; they are never pending, so those scans
// no-op.
func (s *Sender) HandleChange(evt bus.Event) error {
	if evt.Table != store.TableMessages || evt.Op != bus.OpInsert {
		return nil
	}
	return s.Flush()
}

// Flush transmits every pending message in id order and clears their
// pending flags as one batch. Nothing is cleared unless every transmit was
// handed to the transport; a write failure leaves the whole queue intact
// for the next flush. Offline, Flush is a no-op and messages keep queueing.
func (s *Sender) Flush() error {
	if !s.channel.Live() {
		return nil
	}
	pending, err := s.db.PendingMessages()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	for _, m := range pending {
		if err := s.channel.SendMessage(m.ID, m.Conversation, m.Text); err != nil {
			s.logger.Warn("send failed, keeping queue pending",
				zap.Int64("message_id", m.ID), zap.Error(err))
			return nil
		}
	}
	if err := s.db.ClearPending(); err != nil {
		return err
	}
	s.logger.Info("pending messages flushed", zap.Int("count", len(pending)))
	return nil
}
