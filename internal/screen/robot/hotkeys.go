package robot

import (
	"context"
	"sync"

	hook "github.com/robotn/gohook"
	"go.uber.org/zap"

	"github.com/verte-zerg/skillcast/internal/logging"
	"github.com/verte-zerg/skillcast/internal/screen"
)

// Hotkeys binds global key-down callbacks.
type Hotkeys struct {
	mu       sync.Mutex
	bindings map[string][]func()
	started  bool
	logger   *zap.Logger
}

// NewHotkeys returns an empty hotkey set.
func NewHotkeys(logger *zap.Logger) *Hotkeys {
	return &Hotkeys{bindings: map[string][]func(){}, logger: logging.OrNop(logger)}
}

// Register binds fn to key. Bindings must be registered before Start.
func (h *Hotkeys) Register(key string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key = screen.KeyName(key)
	h.bindings[key] = append(h.bindings[key], fn)
}

// Trigger returns a channel that receives a value for each press of key made
// while a receiver is waiting. Presses with no waiting receiver are dropped.
func (h *Hotkeys) Trigger(key string) <-chan struct{} {
	ch := make(chan struct{})
	h.Register(key, func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

// Start runs the global hook until ctx is done.
func (h *Hotkeys) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	for key, fns := range h.bindings {
		key, fns := key, fns
		hook.Register(hook.KeyDown, []string{key}, func(hook.Event) {
			h.logger.Debug("hotkey pressed", zap.String("key", key))
			for _, fn := range fns {
				fn()
			}
		})
	}
	h.mu.Unlock()

	events := hook.Start()
	done := hook.Process(events)
	select {
	case <-ctx.Done():
		hook.End()
		<-done
	case <-done:
	}
	return nil
}
