package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/slk/internal/rtm"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

// handleKey applies one key press as store writes. The editor buffers and
// the mode live in settings, so every keystroke flows through the same
// change-event pipeline as remote traffic and settles during the drain.
func (s *Surface) handleKey(ev *tcell.EventKey) error {
	mode, err := s.db.GetInt(store.KeyMode, store.ModeNormal)
	if err != nil {
		return err
	}
	switch mode {
	case store.ModeInsert:
		return s.handleInsertKey(ev)
	case store.ModeSearch:
		return s.handleSearchKey(ev)
	default:
		return s.handleNormalKey(ev)
	}
}

func (s *Surface) handleNormalKey(ev *tcell.EventKey) error {
	if ev.Key() != tcell.KeyRune {
		return nil
	}
	switch ev.Rune() {
	case 'q':
		s.quit = true
		return nil
	case 'i':
		return s.db.SetInt(store.KeyMode, store.ModeInsert)
	case '/':
		return s.db.SetInt(store.KeyMode, store.ModeSearch)
	case 'w':
		return s.moveSelection(s.db.PrevConversation)
	case 's':
		return s.moveSelection(s.db.NextConversation)
	case 'R':
		// Manual reconnect; there is no automatic one.
		if s.client.State() != rtm.Disconnected {
			return nil
		}
		if err := s.client.Connect(); err != nil {
			s.logger.Warn("reconnect refused", zap.Error(err))
		}
		return nil
	}
	return nil
}

// moveSelection resolves the neighbor of the current selection in the
// roster chain and records it. Writing the setting is what triggers the
// history fetch.
func (s *Surface) moveSelection(step func(string) (string, error)) error {
	current, err := s.db.GetString(store.KeySelectedConversation, "")
	if err != nil {
		return err
	}
	next, err := step(current)
	if err != nil {
		return err
	}
	if next == "" || next == current {
		return nil
	}
	return s.db.SetString(store.KeySelectedConversation, next)
}

func (s *Surface) handleInsertKey(ev *tcell.EventKey) error {
	text, cursor, err := s.inputState()
	if err != nil {
		return err
	}
	runes := []rune(text)

	switch ev.Key() {
	case tcell.KeyEscape:
		return s.db.SetInt(store.KeyMode, store.ModeNormal)
	case tcell.KeyEnter:
		return s.sendInput(string(runes))
	case tcell.KeyLeft:
		return s.db.SetInt(store.KeyInputCursor, max(cursor-1, 0))
	case tcell.KeyRight:
		return s.db.SetInt(store.KeyInputCursor, min(cursor+1, len(runes)))
	case tcell.KeyHome, tcell.KeyCtrlA:
		return s.db.SetInt(store.KeyInputCursor, 0)
	case tcell.KeyEnd, tcell.KeyCtrlE:
		return s.db.SetInt(store.KeyInputCursor, len(runes))
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if cursor == 0 {
			return nil
		}
		runes = append(runes[:cursor-1], runes[cursor:]...)
		return s.setInputState(string(runes), cursor-1)
	case tcell.KeyDelete:
		if cursor >= len(runes) {
			return nil
		}
		runes = append(runes[:cursor], runes[cursor+1:]...)
		return s.setInputState(string(runes), cursor)
	case tcell.KeyRune:
		runes = append(runes[:cursor], append([]rune{ev.Rune()}, runes[cursor:]...)...)
		return s.setInputState(string(runes), cursor+1)
	}
	return nil
}

// sendInput stores the composed text as a pending message and clears the
// buffer. The outbox picks the insert up from the queue; whether it goes
// out now or after the next reconnect is its problem.
func (s *Surface) sendInput(text string) error {
	if text == "" {
		return nil
	}
	selected, err := s.selectedConversation()
	if err != nil {
		return err
	}
	if selected == "" {
		return nil
	}
	self, err := s.db.GetString(store.KeySelfUser, "")
	if err != nil {
		return err
	}
	ts := fmt.Sprintf("%d", time.Now().Unix())
	id, err := s.db.InsertOutgoing(selected, self, text, ts)
	if err != nil {
		return err
	}
	s.logger.Debug("message composed",
		zap.Int64("message_id", id), zap.String("conversation", selected))
	return s.setInputState("", 0)
}

func (s *Surface) handleSearchKey(ev *tcell.EventKey) error {
	search, err := s.db.GetString(store.KeySearch, "")
	if err != nil {
		return err
	}
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyEnter:
		return s.db.SetInt(store.KeyMode, store.ModeNormal)
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if search == "" {
			return nil
		}
		runes := []rune(search)
		// Each keystroke rewrites the setting, so the filter is live.
		return s.db.SetString(store.KeySearch, string(runes[:len(runes)-1]))
	case tcell.KeyRune:
		return s.db.SetString(store.KeySearch, search+string(ev.Rune()))
	}
	return nil
}

func (s *Surface) inputState() (string, int, error) {
	text, err := s.db.GetString(store.KeyInputText, "")
	if err != nil {
		return "", 0, err
	}
	cursor, err := s.db.GetInt(store.KeyInputCursor, 0)
	if err != nil {
		return "", 0, err
	}
	if n := len([]rune(text)); cursor > n {
		cursor = n
	}
	if cursor < 0 {
		cursor = 0
	}
	return text, cursor, nil
}

func (s *Surface) setInputState(text string, cursor int) error {
	if err := s.db.SetString(store.KeyInputText, text); err != nil {
		return err
	}
	return s.db.SetInt(store.KeyInputCursor, cursor)
}
