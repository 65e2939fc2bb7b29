// Package builtin provides the commands every distributor runtime ships with.
// Each constructor returns a command.Definition; Register adds them all.
package builtin

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/permission"
	"github.com/weblate/distributor/internal/scheduler"
)

// Permission nodes guarding the built-in commands.
const (
	NodeStatus     = "distributor.command.status"
	NodePermission = "distributor.command.permission"
	NodeTasks      = "distributor.command.tasks"
)

// Deps are the components the built-ins operate on.
type Deps struct {
	Registry    *command.Registry
	Permissions *permission.Manager
	Scheduler   *scheduler.Scheduler
	Players     *audience.PlayerLookup
	Process     domain.ProcessInspector
	TickRate    int
	Logger      *zap.Logger
}

// Definitions returns every built-in in registration order.
func Definitions(d Deps) []command.Definition {
	return []command.Definition{
		Help(d.Registry, d.Permissions.Resolver()),
		Status(d.Scheduler, d.Process, d.TickRate),
		PermCheck(d.Permissions.Resolver(), d.Players),
		PermSet(d.Permissions, d.Scheduler, d.Logger),
		GroupInfo(d.Permissions.Resolver()),
		Tasks(d.Scheduler),
	}
}

// Register adds every built-in to d.Registry.
func Register(d Deps) error {
	for _, def := range Definitions(d) {
		if _, err := d.Registry.Register(def); err != nil {
			return fmt.Errorf("failed to register built-in %q: %w", def.Name, err)
		}
	}
	return nil
}
