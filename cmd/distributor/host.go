package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/plugin"
	"github.com/weblate/distributor/internal/scheduler"
)

// Permission nodes of the stand-alone host commands.
const (
	nodeKick   = "distributor.command.kick"
	nodeRemind = "distributor.command.remind"
)

// registerHostCommands adds the commands a real game server would provide.
func registerHostCommands(p *plugin.Plugin) error {
	players := audience.NewPlayerLookup(p.Directory())
	defs := []command.Definition{
		{
			Name:        "kick",
			Description: "Disconnect a player.",
			Permission:  nodeKick,
			Arguments: []command.Argument{
				{Name: "player", Type: audience.NewPlayerArgument(players, false)},
				{Name: "reason", Type: command.String(), Optional: true, Variadic: true},
			},
			Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
				target, _ := command.Get[domain.Audience](inv, "player")
				reason := joinWords(command.GetOr[[]any](inv, "reason", nil))
				if reason == "" {
					reason = "no reason given"
				}
				_ = p.Broadcast(target, domain.MessageWarning, "You were kicked: "+reason)
				p.Disconnect(target.ID)
				return p.Broadcast(online(p), domain.MessageInfo,
					fmt.Sprintf("%s was kicked by %s (%s).", target.Name, inv.Audience.Name, reason))
			}),
		},
		{
			Name:        "list",
			Aliases:     []string{"who"},
			Description: "Show connected players.",
			Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
				names := []string{}
				for _, a := range p.Directory().Online() {
					names = append(names, a.Name)
				}
				if len(names) == 0 {
					return inv.Reply("Nobody is online.")
				}
				return inv.Reply(fmt.Sprintf("%d online: %s", len(names), strings.Join(names, ", ")))
			}),
		},
		{
			Name:        "say",
			Description: "Broadcast a message to every player.",
			Scope:       command.ScopeConsole,
			Arguments: []command.Argument{
				{Name: "message", Type: command.String(), Variadic: true},
			},
			Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
				words, _ := command.Get[[]any](inv, "message")
				return p.Broadcast(online(p), domain.MessageInfo, "[server] "+joinWords(words))
			}),
		},
		{
			Name:        "remind",
			Description: "Send yourself a message after a number of ticks.",
			Permission:  nodeRemind,
			Arguments: []command.Argument{
				{Name: "ticks", Type: command.IntRange(1, 72000)},
				{Name: "message", Type: command.String(), Variadic: true},
			},
			Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
				ticks, _ := command.Get[int](inv, "ticks")
				words, _ := command.Get[[]any](inv, "message")
				text := joinWords(words)
				_, err := p.Scheduler().RunDelayed("remind", func(context.Context, *scheduler.Task) error {
					return inv.Reply("Reminder: " + text)
				}, uint64(ticks))
				if err != nil {
					return err
				}
				return inv.Reply(fmt.Sprintf("Reminding you in %d ticks.", ticks))
			}),
		},
	}

	for _, def := range defs {
		if _, err := p.Registry().Register(def); err != nil {
			return fmt.Errorf("failed to register %q: %w", def.Name, err)
		}
	}
	return nil
}

func online(p *plugin.Plugin) domain.Audience {
	return audience.Group("online", p.Directory().Online()...)
}

func joinWords(words []any) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, fmt.Sprint(w))
	}
	return strings.Join(parts, " ")
}
