package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/permission"
	"github.com/weblate/distributor/internal/scheduler"
)

// PermCheck explains how a node resolves for an online player.
func PermCheck(resolver *permission.Resolver, players *audience.PlayerLookup) command.Definition {
	return command.Definition{
		Name:        "perm-check",
		Description: "Show whether a player holds a permission node and why.",
		Permission:  NodePermission,
		Arguments: []command.Argument{
			{Name: "player", Type: audience.NewPlayerArgument(players, true)},
			{Name: "node", Type: command.String()},
		},
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			target, _ := command.Get[domain.Audience](inv, "player")
			node, _ := command.Get[string](inv, "node")
			if _, err := permission.NormalizeNode(node); err != nil {
				return inv.Warn(fmt.Sprintf("%q is not a valid permission node.", node))
			}

			d := resolver.Explain(target, node)
			if d.Holder == "" {
				return inv.Reply(fmt.Sprintf("%s has %s: %s (no match, denied by default)", target.Name, node, d.Value))
			}
			return inv.Reply(fmt.Sprintf("%s has %s: %s (set by %s on %s)", target.Name, node, d.Value, d.Holder, d.Node))
		}),
	}
}

// PermSet changes a group node and persists the table in the background.
func PermSet(manager *permission.Manager, sched *scheduler.Scheduler, logger *zap.Logger) command.Definition {
	return command.Definition{
		Name:        "perm-set",
		Description: "Set a permission node on a group to true, false or unset.",
		Permission:  NodePermission,
		Arguments: []command.Argument{
			{Name: "group", Type: command.String()},
			{Name: "node", Type: command.String()},
			{Name: "value", Type: command.Enum("true", "false", "unset")},
		},
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			group, _ := command.Get[string](inv, "group")
			node, _ := command.Get[string](inv, "node")
			raw, _ := command.Get[string](inv, "value")
			value, _ := domain.ParseTristate(raw)

			if err := manager.SetGroupPermission(group, node, value); err != nil {
				return inv.Warn("Permission not changed: " + err.Error())
			}
			logger.Info("group permission changed",
				zap.String("group", group),
				zap.String("node", node),
				zap.String("value", value.String()),
				zap.Stringer("by", inv.Audience))

			_, err := sched.RunAsync("permissions:save", func(context.Context, *scheduler.Task) error {
				if err := manager.Persist(); err != nil {
					_, _ = sched.RunOnTick("permissions:save-failed", func(context.Context, *scheduler.Task) error {
						return inv.Warn("Permission changed but could not be saved.")
					})
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			return inv.Reply(fmt.Sprintf("Set %s to %s on group %s.", strings.ToLower(node), value, strings.ToLower(group)))
		}),
	}
}

// GroupInfo shows a group's weight, parents, resolution chain and nodes.
func GroupInfo(resolver *permission.Resolver) command.Definition {
	return command.Definition{
		Name:        "group",
		Description: "Show a permission group.",
		Permission:  NodePermission,
		Arguments: []command.Argument{
			{Name: "name", Type: command.String()},
		},
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			name, _ := command.Get[string](inv, "name")
			name = strings.ToLower(strings.TrimSpace(name))
			snap := resolver.Snapshot()
			g, ok := snap.Table().Group(name)
			if !ok {
				return inv.Warn(fmt.Sprintf("No group named %q.", name))
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Group %s (weight %d)", g.Name, g.Weight)
			if len(g.Parents) > 0 {
				fmt.Fprintf(&b, "\n  parents: %s", strings.Join(g.Parents, ", "))
			}
			chain := snap.Chain(domain.Audience{ID: g.Name, Kind: domain.KindGroup})
			fmt.Fprintf(&b, "\n  resolves through: %s", strings.Join(chain, " > "))

			nodes := make([]string, 0, len(g.Permissions))
			for n := range g.Permissions {
				nodes = append(nodes, n)
			}
			sort.Strings(nodes)
			for _, n := range nodes {
				fmt.Fprintf(&b, "\n  %s = %s", n, g.Permissions[n])
			}
			return inv.Reply(b.String())
		}),
	}
}
