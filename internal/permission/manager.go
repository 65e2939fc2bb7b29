package permission

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/domain"
)

// Manager is the single write path for permission data.
// Each mutation copies the current table, applies the change, validates the
// result and publishes it; a failed validation leaves the old snapshot live.
type Manager struct {
	mu       sync.Mutex
	resolver *Resolver
	store    domain.PermissionStore
	logger   *zap.Logger
}

// NewManager creates a manager publishing into resolver.
// store may be nil for in-memory use.
func NewManager(resolver *Resolver, store domain.PermissionStore, logger *zap.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		store:    store,
		logger:   logger,
	}
}

// Resolver returns the resolver this manager publishes to.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Load reads the store and publishes its table. A cyclic or otherwise
// invalid table is returned as an error and nothing is published.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	table, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load permissions: %w", err)
	}
	return m.Replace(table)
}

// Replace validates and publishes table as a whole.
func (m *Manager) Replace(table domain.PermissionTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := Build(table)
	if err != nil {
		return fmt.Errorf("invalid permission table: %w", err)
	}
	m.resolver.Publish(snap)
	m.logger.Info("permission snapshot published",
		zap.Int("groups", len(table.Groups)),
		zap.Int("subjects", len(table.Subjects)))
	return nil
}

// Update applies fn to a copy of the current table and publishes the result.
func (m *Manager) Update(fn func(t *domain.PermissionTable) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.resolver.Snapshot().Table()
	if err := fn(&table); err != nil {
		return err
	}
	snap, err := Build(table)
	if err != nil {
		return fmt.Errorf("rejected permission update: %w", err)
	}
	m.resolver.Publish(snap)
	return nil
}

// Persist saves the current table to the store.
// Callers run it off the tick goroutine.
func (m *Manager) Persist() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.resolver.Snapshot().Table()); err != nil {
		return fmt.Errorf("failed to save permissions: %w", err)
	}
	return nil
}

// SetGroup creates or replaces a group, keeping its declaration position.
func (m *Manager) SetGroup(g domain.Group) error {
	g.Name = normalizeGroupName(g.Name)
	return m.Update(func(t *domain.PermissionTable) error {
		for i := range t.Groups {
			if t.Groups[i].Name == g.Name {
				t.Groups[i] = g
				return nil
			}
		}
		t.Groups = append(t.Groups, g)
		return nil
	})
}

// DeleteGroup removes a group. It fails while other holders inherit from it.
func (m *Manager) DeleteGroup(name string) error {
	name = normalizeGroupName(name)
	return m.Update(func(t *domain.PermissionTable) error {
		for i := range t.Groups {
			if t.Groups[i].Name == name {
				t.Groups = append(t.Groups[:i], t.Groups[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w %q", domain.ErrUnknownGroup, name)
	})
}

// SetGroupPermission sets node on an existing group. Unset removes it.
func (m *Manager) SetGroupPermission(group, node string, value domain.Tristate) error {
	group = normalizeGroupName(group)
	n, err := NormalizeNode(node)
	if err != nil {
		return err
	}
	return m.Update(func(t *domain.PermissionTable) error {
		for i := range t.Groups {
			if t.Groups[i].Name == group {
				setNode(&t.Groups[i].Permissions, n, value)
				return nil
			}
		}
		return fmt.Errorf("%w %q", domain.ErrUnknownGroup, group)
	})
}

// SetGroupParents replaces the parents of a group.
func (m *Manager) SetGroupParents(group string, parents ...string) error {
	group = normalizeGroupName(group)
	return m.Update(func(t *domain.PermissionTable) error {
		for i := range t.Groups {
			if t.Groups[i].Name == group {
				t.Groups[i].Parents = append([]string(nil), parents...)
				return nil
			}
		}
		return fmt.Errorf("%w %q", domain.ErrUnknownGroup, group)
	})
}

// SetSubjectPermission sets node for one audience id, creating the subject.
func (m *Manager) SetSubjectPermission(id, node string, value domain.Tristate) error {
	n, err := NormalizeNode(node)
	if err != nil {
		return err
	}
	return m.Update(func(t *domain.PermissionTable) error {
		sub := subjectRef(t, id)
		setNode(&sub.Permissions, n, value)
		return nil
	})
}

// SetSubject creates or replaces the overrides of one audience id.
func (m *Manager) SetSubject(sub domain.Subject) error {
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		return fmt.Errorf("subject id must not be empty")
	}
	return m.Update(func(t *domain.PermissionTable) error {
		*subjectRef(t, sub.ID) = sub
		return nil
	})
}

// AddSubjectParent appends a group to an audience's direct groups.
func (m *Manager) AddSubjectParent(id, group string) error {
	group = normalizeGroupName(group)
	return m.Update(func(t *domain.PermissionTable) error {
		sub := subjectRef(t, id)
		for _, p := range sub.Parents {
			if normalizeGroupName(p) == group {
				return nil
			}
		}
		sub.Parents = append(sub.Parents, group)
		return nil
	})
}

// RemoveSubjectParent drops a group from an audience's direct groups.
func (m *Manager) RemoveSubjectParent(id, group string) error {
	group = normalizeGroupName(group)
	return m.Update(func(t *domain.PermissionTable) error {
		sub := subjectRef(t, id)
		kept := sub.Parents[:0]
		for _, p := range sub.Parents {
			if normalizeGroupName(p) != group {
				kept = append(kept, p)
			}
		}
		sub.Parents = kept
		return nil
	})
}

// SetDefaultGroup changes the group used when nothing else matches.
func (m *Manager) SetDefaultGroup(name string) error {
	return m.Update(func(t *domain.PermissionTable) error {
		t.DefaultGroup = normalizeGroupName(name)
		return nil
	})
}

// subjectRef finds or appends the subject for id, trimmed the way Build
// stores it.
func subjectRef(t *domain.PermissionTable, id string) *domain.Subject {
	id = strings.TrimSpace(id)
	for i := range t.Subjects {
		if t.Subjects[i].ID == id {
			return &t.Subjects[i]
		}
	}
	t.Subjects = append(t.Subjects, domain.Subject{ID: id})
	return &t.Subjects[len(t.Subjects)-1]
}

func setNode(nodes *map[string]domain.Tristate, node string, value domain.Tristate) {
	if *nodes == nil {
		*nodes = make(map[string]domain.Tristate)
	}
	if value == domain.Unset {
		delete(*nodes, node)
		return
	}
	(*nodes)[node] = value
}
