package audience

import (
	"errors"
	"fmt"

	"github.com/weblate/distributor/internal/domain"
)

// Broadcaster delivers messages through the host sender and expands groups.
type Broadcaster struct {
	sender domain.MessageSender
}

// NewBroadcaster wraps sender.
func NewBroadcaster(sender domain.MessageSender) *Broadcaster {
	return &Broadcaster{sender: sender}
}

// Send delivers message to a, fanning out group audiences to each member
// once. Member failures are joined into the returned error.
func (b *Broadcaster) Send(a domain.Audience, kind domain.MessageKind, message string) error {
	if a.Kind != domain.KindGroup {
		if !a.Can(domain.CapReceiveMessage) {
			return nil
		}
		return b.sender.Send(a, kind, message)
	}

	var errs []error
	seen := make(map[string]bool)
	var walk func(g domain.Audience)
	walk = func(g domain.Audience) {
		if seen[string(g.Kind)+":"+g.ID] {
			return
		}
		seen[string(g.Kind)+":"+g.ID] = true
		for _, m := range g.Members {
			if m.Kind == domain.KindGroup {
				walk(m)
				continue
			}
			if seen[string(m.Kind)+":"+m.ID] || !m.Can(domain.CapReceiveMessage) {
				continue
			}
			seen[string(m.Kind)+":"+m.ID] = true
			if err := b.sender.Send(m, kind, message); err != nil {
				errs = append(errs, fmt.Errorf("send to %s: %w", m, err))
			}
		}
	}
	walk(a)
	return errors.Join(errs...)
}

// Ensure Broadcaster implements domain.MessageSender.
var _ domain.MessageSender = (*Broadcaster)(nil)
