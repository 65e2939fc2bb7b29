package audience

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/domain"
)

// Directory tracks audiences for their connection lifetime.
// Lookups read an immutable map; Connect and Disconnect copy it.
type Directory struct {
	mu      sync.Mutex
	current atomic.Pointer[map[string]domain.Audience]
	logger  *zap.Logger
}

// NewDirectory creates a directory holding only the console and the server.
func NewDirectory(logger *zap.Logger) *Directory {
	d := &Directory{logger: logger}
	d.reset()
	return d
}

func (d *Directory) reset() {
	m := map[string]domain.Audience{
		domain.ConsoleID: Console(),
		domain.ServerID:  Server(),
	}
	d.current.Store(&m)
}

// Connect adds or replaces a player audience.
// The console and server ids are reserved.
func (d *Directory) Connect(a domain.Audience) error {
	if a.ID == "" {
		return fmt.Errorf("audience has empty id")
	}
	if a.ID == domain.ConsoleID || a.ID == domain.ServerID || a.IsPrivileged() {
		return fmt.Errorf("audience id %q is reserved", a.ID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := *d.current.Load()
	next := make(map[string]domain.Audience, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[a.ID] = a
	d.current.Store(&next)

	d.logger.Debug("audience connected", zap.String("id", a.ID), zap.String("name", a.Name))
	return nil
}

// Disconnect removes an audience. Unknown ids are ignored.
func (d *Directory) Disconnect(id string) {
	if id == domain.ConsoleID || id == domain.ServerID {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := *d.current.Load()
	if _, ok := old[id]; !ok {
		return
	}
	next := make(map[string]domain.Audience, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	d.current.Store(&next)

	d.logger.Debug("audience disconnected", zap.String("id", id))
}

// Get returns the audience connected under id.
func (d *Directory) Get(id string) (domain.Audience, bool) {
	a, ok := (*d.current.Load())[id]
	return a, ok
}

// Online returns connected players sorted by id.
func (d *Directory) Online() []domain.Audience {
	m := *d.current.Load()
	out := make([]domain.Audience, 0, len(m))
	for _, a := range m {
		if a.Kind == domain.KindPlayer {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops every player. Used on shutdown.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}
