package permission

import (
	"sync/atomic"

	"github.com/weblate/distributor/internal/domain"
)

// Resolver answers permission checks against the currently published snapshot.
// Readers never lock; writers publish a whole new snapshot.
type Resolver struct {
	current atomic.Pointer[Snapshot]
}

// NewResolver creates a resolver serving snap. A nil snap denies everything
// except privileged audiences.
func NewResolver(snap *Snapshot) *Resolver {
	r := &Resolver{}
	if snap == nil {
		snap, _ = Build(domain.PermissionTable{})
	}
	r.current.Store(snap)
	return r
}

// Snapshot returns the published snapshot.
func (r *Resolver) Snapshot() *Snapshot {
	return r.current.Load()
}

// Publish atomically replaces the snapshot.
func (r *Resolver) Publish(snap *Snapshot) {
	r.current.Store(snap)
}

// Resolve returns the definitive value of node for the audience.
// Absence at every level is Denied.
func (r *Resolver) Resolve(a domain.Audience, node string) domain.Tristate {
	return r.Explain(a, node).Value
}

// Explain is Resolve with the holder and node level that decided it.
func (r *Resolver) Explain(a domain.Audience, node string) Decision {
	if a.IsPrivileged() {
		return Decision{Value: domain.Granted, Holder: string(a.Kind), Node: Wildcard}
	}
	n, err := NormalizeNode(node)
	if err != nil {
		return Decision{Value: domain.Denied}
	}
	snap := r.current.Load()
	if snap.VerifyOperator() && a.Can(domain.CapOperator) {
		return Decision{Value: domain.Granted, Holder: "operator", Node: Wildcard}
	}
	d := snap.Lookup(a, n)
	if d.Value == domain.Unset {
		d.Value = domain.Denied
	}
	return d
}

// HasPermission implements domain.PermissionChecker.
func (r *Resolver) HasPermission(a domain.Audience, node string) bool {
	return r.Resolve(a, node).Bool()
}

// Ensure Resolver implements domain.PermissionChecker.
var _ domain.PermissionChecker = (*Resolver)(nil)
