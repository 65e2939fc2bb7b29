package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
)

// Help lists the commands the audience may run, or describes one of them.
func Help(registry *command.Registry, checker domain.PermissionChecker) command.Definition {
	return command.Definition{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "List commands or show how to use one.",
		Arguments: []command.Argument{
			{Name: "command", Type: command.String(), Optional: true},
		},
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			visible := func(def *command.Definition) bool {
				return def.Allows(inv.Audience) &&
					(def.Permission == "" || checker.HasPermission(inv.Audience, def.Permission))
			}

			if name, ok := command.Get[string](inv, "command"); ok {
				def, found := registry.Lookup(name)
				if !found || !visible(def) {
					return inv.Warn(fmt.Sprintf("No command named %q.", name))
				}
				var b strings.Builder
				fmt.Fprintf(&b, "%s\n  %s", def.Usage(), def.Description)
				if len(def.Aliases) > 0 {
					fmt.Fprintf(&b, "\n  aliases: %s", strings.Join(def.Aliases, ", "))
				}
				return inv.Reply(b.String())
			}

			var b strings.Builder
			b.WriteString("Commands:")
			for _, def := range registry.All() {
				if visible(def) {
					fmt.Fprintf(&b, "\n  %s - %s", def.Usage(), def.Description)
				}
			}
			return inv.Reply(b.String())
		}),
	}
}
