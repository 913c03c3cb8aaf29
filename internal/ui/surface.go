// Package ui owns the terminal: it renders the store into a roster pane,
// a message pane, a status line, and an input line, and it turns key
// presses into store writes. There are no retained widgets; the store is
// the only view model, and every frame is drawn from scratch.
package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/rtm"
	"github.com/matheus3301/slk/internal/store"
	"go.uber.org/zap"
)

const (
	rosterWidth = 20
	authorWidth = 10
)

// Surface is the terminal front end. The screen is injected so tests can
// drive a simulation screen.
type Surface struct {
	screen tcell.Screen
	db     *store.DB
	client *rtm.Client
	queue  *bus.Queue
	logger *zap.Logger

	events chan tcell.Event
	quitc  chan struct{}
	quit   bool
}

// NewSurface creates the surface. Init must run before the first Poll or
// Render.
func NewSurface(screen tcell.Screen, db *store.DB, client *rtm.Client, queue *bus.Queue, logger *zap.Logger) *Surface {
	return &Surface{
		screen: screen,
		db:     db,
		client: client,
		queue:  queue,
		logger: logger,
	}
}

// Init takes over the terminal and starts event delivery.
func (s *Surface) Init() error {
	if err := s.screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	s.events = make(chan tcell.Event, 16)
	s.quitc = make(chan struct{})
	go s.screen.ChannelEvents(s.events, s.quitc)
	return nil
}

// Fini releases the terminal. Safe to call more than once.
func (s *Surface) Fini() {
	if s.quitc != nil {
		close(s.quitc)
		s.quitc = nil
	}
	s.screen.Fini()
}

// Quit reports whether the user asked to exit.
func (s *Surface) Quit() bool {
	return s.quit
}

// Poll waits up to max for one terminal event and applies it. At most one
// event is consumed per call, keeping input interleaved with network
// completions instead of starving them.
func (s *Surface) Poll(max time.Duration) error {
	timer := time.NewTimer(max)
	defer timer.Stop()
	select {
	case ev := <-s.events:
		return s.handleEvent(ev)
	case <-timer.C:
		return nil
	}
}

func (s *Surface) handleEvent(ev tcell.Event) error {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		s.screen.Sync()
		// A zero event matches no listener but marks the pass processed,
		// forcing a redraw through the normal drain path.
		s.queue.Push(bus.Event{})
		return nil
	case *tcell.EventKey:
		return s.handleKey(ev)
	}
	return nil
}

// selectedConversation resolves the effective selection: the stored id
// while it is still in the roster, otherwise the roster head. The stored
// setting is never rewritten here; a vanished selection comes back when
// the filter releases it.
func (s *Surface) selectedConversation() (string, error) {
	id, err := s.db.GetString(store.KeySelectedConversation, "")
	if err != nil {
		return "", err
	}
	if id != "" {
		e, err := s.db.RosterEntryByID(id)
		if err != nil {
			return "", err
		}
		if e != nil {
			return id, nil
		}
	}
	head, err := s.db.RosterHead()
	if err != nil || head == nil {
		return "", err
	}
	return head.ID, nil
}

// Render redraws the whole screen from the store.
func (s *Surface) Render() error {
	s.screen.Clear()
	w, h := s.screen.Size()
	if w < rosterWidth+authorWidth+4 || h < 4 {
		s.screen.Show()
		return nil
	}

	selected, err := s.selectedConversation()
	if err != nil {
		return err
	}
	if err := s.drawRoster(selected, h); err != nil {
		return err
	}
	if err := s.drawMessages(selected, w, h); err != nil {
		return err
	}
	if err := s.drawStatus(w, h); err != nil {
		return err
	}
	if err := s.drawInput(w, h); err != nil {
		return err
	}
	s.screen.Show()
	return nil
}

func (s *Surface) drawRoster(selected string, h int) error {
	entries, err := s.db.RosterEntries()
	if err != nil {
		return err
	}
	visible := h - 2
	scroll, err := s.db.GetInt(store.KeyRosterScroll, 0)
	if err != nil {
		return err
	}
	selRank := -1
	for _, e := range entries {
		if e.ID == selected {
			selRank = e.Rank
		}
	}
	if adjusted := clampScroll(scroll, selRank, len(entries), visible); adjusted != scroll {
		scroll = adjusted
		// Persisting the window keeps it stable across restarts. The
		// write lands as a settings event and settles next pass.
		if err := s.db.SetInt(store.KeyRosterScroll, scroll); err != nil {
			return err
		}
	}

	base := tcell.StyleDefault.
		Background(tcell.PaletteColor(53)).
		Foreground(tcell.ColorWhite)
	selStyle := tcell.StyleDefault.
		Background(tcell.PaletteColor(96)).
		Foreground(tcell.ColorWhite).
		Bold(true)
	for y := 0; y < visible; y++ {
		style := base
		var name string
		if i := scroll + y; i < len(entries) {
			name = " " + entries[i].DisplayName
			if entries[i].ID == selected {
				style = selStyle
			}
		}
		drawText(s.screen, 0, y, rosterWidth, style, name)
	}
	return nil
}

// clampScroll keeps the selected row inside the window and the window
// inside the list.
func clampScroll(scroll, selRank, total, visible int) int {
	if visible < 1 {
		visible = 1
	}
	if selRank >= 0 {
		if selRank < scroll {
			scroll = selRank
		}
		if selRank >= scroll+visible {
			scroll = selRank - visible + 1
		}
	}
	if scroll > total-visible {
		scroll = total - visible
	}
	if scroll < 0 {
		scroll = 0
	}
	return scroll
}

func (s *Surface) drawMessages(selected string, w, h int) error {
	if selected == "" {
		return nil
	}
	msgs, err := s.db.ListMessages(selected, 0)
	if err != nil {
		return err
	}
	left := rosterWidth + 1
	textWidth := w - left - authorWidth - 1
	if textWidth < 1 {
		return nil
	}

	// Newest message sits on the bottom row; older ones stack upward
	// until the pane runs out.
	y := h - 3
	for i, m := range msgs {
		if y < 0 {
			break
		}
		style := tcell.StyleDefault
		if i%2 == 1 {
			style = style.Background(tcell.PaletteColor(235))
		}
		if !m.Acknowledged {
			style = style.Foreground(tcell.PaletteColor(245))
		}
		lines := wrapRunes([]rune(m.Text), textWidth)
		top := y - len(lines) + 1
		for j, line := range lines {
			row := top + j
			if row < 0 {
				continue
			}
			author := ""
			if j == 0 {
				author = m.Author
			}
			drawText(s.screen, left, row, authorWidth, style.Bold(j == 0), author)
			drawText(s.screen, left+authorWidth+1, row, textWidth, style, string(line))
		}
		y = top - 1
	}
	return nil
}

var modeNames = map[int]string{
	store.ModeNormal: "NORMAL",
	store.ModeInsert: "INSERT",
	store.ModeSearch: "SEARCH",
}

func (s *Surface) drawStatus(w, h int) error {
	mode, err := s.db.GetInt(store.KeyMode, store.ModeNormal)
	if err != nil {
		return err
	}
	line := fmt.Sprintf(" %s | %s", modeNames[mode], s.client.State())
	drawText(s.screen, 0, h-2, w, tcell.StyleDefault.Reverse(true), line)
	return nil
}

func (s *Surface) drawInput(w, h int) error {
	mode, err := s.db.GetInt(store.KeyMode, store.ModeNormal)
	if err != nil {
		return err
	}
	if mode == store.ModeSearch {
		search, err := s.db.GetString(store.KeySearch, "")
		if err != nil {
			return err
		}
		drawText(s.screen, 0, h-1, w, tcell.StyleDefault, "/"+search)
		s.screen.ShowCursor(1+len([]rune(search)), h-1)
		return nil
	}

	text, err := s.db.GetString(store.KeyInputText, "")
	if err != nil {
		return err
	}
	drawText(s.screen, 0, h-1, w, tcell.StyleDefault, "> "+text)
	if mode == store.ModeInsert {
		cursor, err := s.db.GetInt(store.KeyInputCursor, 0)
		if err != nil {
			return err
		}
		s.screen.ShowCursor(2+cursor, h-1)
	} else {
		s.screen.HideCursor()
	}
	return nil
}

// drawText fills a fixed-width cell run, padding with spaces.
func drawText(screen tcell.Screen, x, y, width int, style tcell.Style, text string) {
	runes := []rune(text)
	for i := 0; i < width; i++ {
		r := ' '
		if i < len(runes) {
			r = runes[i]
		}
		screen.SetContent(x+i, y, r, nil, style)
	}
}
