// Package audience builds audiences, tracks the ones currently online and
// delivers messages to them.
package audience

import (
	"strings"

	"github.com/weblate/distributor/internal/domain"
)

// Option customizes a player audience.
type Option func(*domain.Audience)

// WithOperator marks the player as a server operator.
func WithOperator() Option {
	return func(a *domain.Audience) {
		a.Capabilities |= domain.CapOperator
	}
}

// WithCapabilities adds arbitrary capability bits.
func WithCapabilities(c domain.Capability) Option {
	return func(a *domain.Audience) {
		a.Capabilities |= c
	}
}

// Player returns a player audience. The id is trimmed and kept case-sensitive.
func Player(id, name string, opts ...Option) domain.Audience {
	a := domain.Audience{
		ID:           strings.TrimSpace(id),
		Name:         name,
		Kind:         domain.KindPlayer,
		Capabilities: domain.CapReceiveMessage,
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Console returns the operator console audience.
func Console() domain.Audience {
	return domain.Audience{
		ID:           domain.ConsoleID,
		Name:         "Console",
		Kind:         domain.KindConsole,
		Capabilities: domain.CapReceiveMessage | domain.CapConsoleOnly,
	}
}

// Server returns the audience of the server itself.
// It is privileged but has nowhere to print.
func Server() domain.Audience {
	return domain.Audience{
		ID:           domain.ServerID,
		Name:         "Server",
		Kind:         domain.KindServer,
		Capabilities: domain.CapConsoleOnly,
	}
}

// Group returns an audience standing for members.
// Nested groups are flattened when the group is broadcast to.
func Group(name string, members ...domain.Audience) domain.Audience {
	return domain.Audience{
		ID:           strings.ToLower(strings.TrimSpace(name)),
		Name:         name,
		Kind:         domain.KindGroup,
		Capabilities: domain.CapReceiveMessage | domain.CapWildcardGroup,
		Members:      append([]domain.Audience(nil), members...),
	}
}
