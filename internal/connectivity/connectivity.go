// Package connectivity supplies the online/offline signal driving the sync
// engine and the photo-analysis consumer.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/auditcore/fieldsync/internal/logging"
)

// Monitor exposes the current online state plus transition subscriptions.
type Monitor interface {
	// IsOnline reports the current connectivity state.
	IsOnline() bool

	// Subscribe registers a callback invoked on every online/offline
	// transition. The returned function unsubscribes.
	Subscribe(fn func(online bool)) func()
}

// Static is a host-driven Monitor: the embedding application (or a test)
// pushes state changes via SetOnline.
type Static struct {
	mu        sync.Mutex
	online    bool
	observers map[int]func(bool)
	nextObs   int
}

// NewStatic returns a Static monitor with the given initial state.
func NewStatic(online bool) *Static {
	return &Static{
		online:    online,
		observers: make(map[int]func(bool)),
	}
}

// IsOnline implements Monitor.
func (s *Static) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline updates the state; observers fire only on actual transitions.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	fns := make([]func(bool), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	logging.Info("connectivity changed", map[string]any{"online": online})
	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe implements Monitor.
func (s *Static) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Probe is a Monitor that derives connectivity by polling a health URL.
type Probe struct {
	*Static

	url      string
	interval time.Duration
	client   *http.Client
}

// NewProbe builds a probe for the given health URL. A probe starts
// optimistic (online) until the first poll says otherwise.
func NewProbe(url string, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Probe{
		Static:   NewStatic(true),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Start polls until the context is cancelled. It blocks; run it in its own
// goroutine.
func (p *Probe) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.SetOnline(p.check(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SetOnline(p.check(ctx))
		}
	}
}

func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
