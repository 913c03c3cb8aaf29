package app

import (
	"sync"
	"time"

	"github.com/matheus3301/slk/internal/bus"
	"github.com/matheus3301/slk/internal/rtm"
	"github.com/matheus3301/slk/internal/ui"
	"go.uber.org/zap"
)

// Poll bounds for one loop pass. Neither step blocks longer than this, so
// a pass always completes and input stays interleaved with network work.
const (
	networkPoll = 25 * time.Millisecond
	inputPoll   = 10 * time.Millisecond
)

// App runs the control loop. Everything that touches the store — network
// completions, key handling, the drain, rendering — happens inside Tick on
// the one goroutine running Run.
type App struct {
	dispatcher *bus.Dispatcher
	client     *rtm.Client
	surface    *ui.Surface
	logger     *zap.Logger

	stopOnce sync.Once
	stopc    chan struct{}
	done     chan struct{}
}

// New creates the app around an already-wired dispatcher, client, and
// surface.
func New(dispatcher *bus.Dispatcher, client *rtm.Client, surface *ui.Surface, logger *zap.Logger) *App {
	return &App{
		dispatcher: dispatcher,
		client:     client,
		surface:    surface,
		logger:     logger,
		stopc:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Tick runs a single loop pass: network completions, at most one input
// event, drain to quiescence, and a redraw when anything was processed.
// Reports whether the user asked to quit. Any error is fatal.
func (a *App) Tick() (quit bool, err error) {
	if err := a.client.Poll(networkPoll); err != nil {
		return false, err
	}
	if err := a.surface.Poll(inputPoll); err != nil {
		return false, err
	}
	processed, err := a.dispatcher.Drain()
	if err != nil {
		return false, err
	}
	if processed {
		if err := a.surface.Render(); err != nil {
			return false, err
		}
	}
	return a.surface.Quit(), nil
}

// Run draws the first frame and ticks until quit, Stop, or a fatal error.
func (a *App) Run() error {
	defer close(a.done)
	a.logger.Info("control loop started")
	if err := a.surface.Render(); err != nil {
		return err
	}
	for {
		select {
		case <-a.stopc:
			return nil
		default:
		}
		quit, err := a.Tick()
		if err != nil {
			return err
		}
		if quit {
			a.logger.Info("quit requested")
			return nil
		}
	}
}

// Stop ends the loop and waits for the pass in flight to finish, so the
// caller can safely tear down the screen and store afterwards. Safe to
// call more than once, and before or after Run returns on its own.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopc) })
	<-a.done
}
