// Package domain contains core business entities and interfaces.
// This is the innermost layer - no dependencies on other internal packages.
package domain

import "strings"

// AudienceKind identifies what an audience addresses.
type AudienceKind string

const (
	KindPlayer  AudienceKind = "player"
	KindConsole AudienceKind = "console"
	KindServer  AudienceKind = "server"
	KindGroup   AudienceKind = "group"
)

// Capability is a bit set of what an audience can do.
type Capability uint8

const (
	// CapReceiveMessage marks audiences that accept messages.
	CapReceiveMessage Capability = 1 << iota
	// CapConsoleOnly marks the operator console (and the server itself).
	CapConsoleOnly
	// CapWildcardGroup marks audiences that stand for a whole group.
	CapWildcardGroup
	// CapOperator marks server operators (admins).
	CapOperator
)

// Has reports whether every bit of c is set.
func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

// Reserved audience identifiers.
const (
	ConsoleID = "console"
	ServerID  = "server"
)

// Audience is a uniform addressable target for messages and permission checks.
// Audiences are values; the runtime owns them for their connection lifetime.
type Audience struct {
	ID           string
	Name         string
	Kind         AudienceKind
	Capabilities Capability
	Members      []Audience // only set for group audiences
}

// Can reports whether the audience has the capability.
func (a Audience) Can(c Capability) bool {
	return a.Capabilities.Has(c)
}

// IsPrivileged reports whether the audience is the console or the server.
func (a Audience) IsPrivileged() bool {
	return a.Kind == KindConsole || a.Kind == KindServer
}

func (a Audience) String() string {
	if a.Name != "" && a.Name != a.ID {
		return string(a.Kind) + ":" + a.Name + "(" + a.ID + ")"
	}
	return string(a.Kind) + ":" + a.ID
}

// Tristate is a permission value.
type Tristate int8

const (
	Unset Tristate = iota
	Granted
	Denied
)

// TristateOf converts a boolean to a definitive Tristate.
func TristateOf(b bool) Tristate {
	if b {
		return Granted
	}
	return Denied
}

// ParseTristate accepts true/false/unset and their usual synonyms.
func ParseTristate(s string) (Tristate, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "grant", "granted", "allow", "yes", "on":
		return Granted, true
	case "false", "deny", "denied", "no", "off":
		return Denied, true
	case "unset", "undefined", "none", "default":
		return Unset, true
	}
	return Unset, false
}

// Bool returns true only for Granted.
func (t Tristate) Bool() bool {
	return t == Granted
}

func (t Tristate) String() string {
	switch t {
	case Granted:
		return "true"
	case Denied:
		return "false"
	default:
		return "unset"
	}
}

// Group is a named permission holder with ordered parents.
type Group struct {
	Name        string
	Parents     []string
	Permissions map[string]Tristate
	Weight      int
}

// Subject holds per-audience overrides (direct groups and nodes).
type Subject struct {
	ID          string
	Parents     []string
	Permissions map[string]Tristate
}

// PermissionTable is the pre-parsed permission configuration.
// Groups keep declaration order; it breaks ties between equal weights.
type PermissionTable struct {
	DefaultGroup   string
	VerifyOperator bool
	Groups         []Group
	Subjects       []Subject
}

// Clone returns a deep copy so writers never touch a published table.
func (t PermissionTable) Clone() PermissionTable {
	out := PermissionTable{
		DefaultGroup:   t.DefaultGroup,
		VerifyOperator: t.VerifyOperator,
		Groups:         make([]Group, len(t.Groups)),
		Subjects:       make([]Subject, len(t.Subjects)),
	}
	for i, g := range t.Groups {
		out.Groups[i] = Group{
			Name:        g.Name,
			Parents:     append([]string(nil), g.Parents...),
			Permissions: cloneNodes(g.Permissions),
			Weight:      g.Weight,
		}
	}
	for i, s := range t.Subjects {
		out.Subjects[i] = Subject{
			ID:          s.ID,
			Parents:     append([]string(nil), s.Parents...),
			Permissions: cloneNodes(s.Permissions),
		}
	}
	return out
}

// Group returns the group with the given name.
func (t PermissionTable) Group(name string) (Group, bool) {
	for _, g := range t.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// Subject returns the subject with the given id.
func (t PermissionTable) Subject(id string) (Subject, bool) {
	for _, s := range t.Subjects {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}

func cloneNodes(in map[string]Tristate) map[string]Tristate {
	out := make(map[string]Tristate, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TaskContext is where a scheduled task executes.
type TaskContext string

const (
	ContextTick  TaskContext = "tick"
	ContextAsync TaskContext = "async"
)

// TaskState is the lifecycle state of a scheduled task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// MessageKind tells the host how to render a message.
type MessageKind string

const (
	MessageInfo    MessageKind = "info"
	MessageWarning MessageKind = "warning"
	MessageError   MessageKind = "error"
)

// ProcessStats is a snapshot of host process resource usage.
type ProcessStats struct {
	PID         int
	RSSBytes    uint64
	CPUPercent  float64
	NumThreads  int32
	Goroutines  int
	UptimeMilli int64
}
