package domain

// MessageSender delivers text to a single audience.
// The host owns the transport; the core never writes to it directly.
type MessageSender interface {
	// Send delivers message to the audience.
	Send(to Audience, kind MessageKind, message string) error
}

// MessageSenderFunc adapts a function to MessageSender.
type MessageSenderFunc func(to Audience, kind MessageKind, message string) error

// Send calls f.
func (f MessageSenderFunc) Send(to Audience, kind MessageKind, message string) error {
	return f(to, kind, message)
}

// PermissionStore loads and persists the permission table.
// Implementations: YAML files, SQLCipher encrypted database.
type PermissionStore interface {
	// Load returns the stored table. A missing store yields an empty table.
	Load() (PermissionTable, error)

	// Save replaces the stored table.
	Save(table PermissionTable) error
}

// PermissionChecker answers whether an audience holds a node.
type PermissionChecker interface {
	// HasPermission resolves node for the audience against the current snapshot.
	HasPermission(a Audience, node string) bool
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ProcessInspector reports resource usage of the host process.
// Implementation: uses gopsutil for cross-platform support.
type ProcessInspector interface {
	// Stats samples the current process.
	Stats() (ProcessStats, error)
}
