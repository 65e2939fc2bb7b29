// Package usecase contains application business logic.
// It orchestrates domain entities and infrastructure.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/scheduler"
)

// Messages sent to the invoking audience.
const (
	MsgUnknownCommand = "Unknown command %q. Type \"help\" for a list of commands."
	MsgBadArgument    = "Invalid argument #%d (%s): expected %s.\nUsage: %s"
	MsgInvalidSyntax  = "Invalid syntax: %s."
	MsgDenied         = "You do not have permission to use this command."
	MsgWrongAudience  = "This command can only be used by %s."
	MsgFailed         = "An error occurred while running this command."
	MsgRateLimited    = "You are sending commands too fast, slow down."
	MsgStopping       = "The server is stopping, try again later."
)

// TickRunner queues work for the tick goroutine.
type TickRunner interface {
	RunOnTick(name string, fn scheduler.Func) (*scheduler.Task, error)
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	// CommandRate is the sustained commands per second allowed per
	// audience. Zero disables rate limiting.
	CommandRate float64
	// CommandBurst is the bucket size for CommandRate.
	CommandBurst int
}

// Dispatcher turns raw input into a handler run on the tick goroutine:
// rate limit, parse, scope, permission, schedule.
type Dispatcher struct {
	parser  *command.Parser
	checker domain.PermissionChecker
	tasks   TickRunner
	sender  domain.MessageSender
	config  DispatcherConfig
	logger  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	parser *command.Parser,
	checker domain.PermissionChecker,
	tasks TickRunner,
	sender domain.MessageSender,
	config DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		parser:   parser,
		checker:  checker,
		tasks:    tasks,
		sender:   sender,
		config:   config,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Dispatch parses text for a and schedules its handler on the next tick.
// The returned task completes once the handler has run. Every rejection is
// reported to a and returned; none of them reaches error-level logs.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, a domain.Audience) (*scheduler.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !d.allow(a) {
		d.logger.Debug("command rate limited", zap.Stringer("audience", a))
		d.reply(a, domain.MessageWarning, MsgRateLimited)
		return nil, domain.ErrRateLimited
	}

	inv, err := d.parser.Parse(text, a)
	if err != nil {
		d.reportParseFailure(a, err)
		return nil, err
	}
	def := inv.Definition

	if !def.Allows(a) {
		d.logger.Debug("command not available to audience",
			zap.String("command", def.Name),
			zap.Stringer("audience", a))
		d.reply(a, domain.MessageError, fmt.Sprintf(MsgWrongAudience, def.Scope))
		return nil, fmt.Errorf("%s: %w", def.Name, domain.ErrWrongAudience)
	}

	if def.Permission != "" && !d.checker.HasPermission(a, def.Permission) {
		d.logger.Debug("command permission denied",
			zap.String("command", def.Name),
			zap.String("node", def.Permission),
			zap.Stringer("audience", a))
		d.reply(a, domain.MessageError, MsgDenied)
		return nil, &domain.PermissionDeniedError{Node: def.Permission}
	}

	inv.WithReply(d.sender)
	task, err := d.tasks.RunOnTick("command:"+def.Name, func(ctx context.Context, _ *scheduler.Task) error {
		return d.execute(ctx, inv)
	})
	if err != nil {
		if errors.Is(err, domain.ErrSchedulerShutdown) {
			d.reply(a, domain.MessageWarning, MsgStopping)
		}
		return nil, err
	}
	return task, nil
}

// Forget drops the rate limiter of a disconnected audience.
func (d *Dispatcher) Forget(id string) {
	d.mu.Lock()
	delete(d.limiters, id)
	d.mu.Unlock()
}

// execute runs the handler on the tick goroutine. Errors and panics become a
// HandlerFailure, which the scheduler logs; the audience only sees a
// generic message.
func (d *Dispatcher) execute(ctx context.Context, inv *command.Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &domain.HandlerFailure{
				Command:  inv.Definition.Name,
				Audience: inv.Audience.String(),
				Cause:    err,
			}
			d.reply(inv.Audience, domain.MessageError, MsgFailed)
		}
	}()
	return inv.Definition.Handler.Execute(ctx, inv)
}

func (d *Dispatcher) reportParseFailure(a domain.Audience, err error) {
	var pf *domain.ParseFailure
	if !errors.As(err, &pf) {
		d.reply(a, domain.MessageError, MsgFailed)
		return
	}
	d.logger.Debug("command parse failed",
		zap.Stringer("audience", a),
		zap.String("kind", pf.Kind.String()),
		zap.String("command", pf.Command))

	switch pf.Kind {
	case domain.UnknownCommand:
		d.reply(a, domain.MessageError, fmt.Sprintf(MsgUnknownCommand, pf.Command))
	case domain.BadArgument:
		usage := pf.Command
		if def, ok := d.parser.Registry().Lookup(pf.Command); ok {
			usage = def.Usage()
		}
		name := pf.Argument
		if name == "" {
			name = "-"
		}
		d.reply(a, domain.MessageError, fmt.Sprintf(MsgBadArgument, pf.Index+1, name, pf.Expected, usage))
	default:
		d.reply(a, domain.MessageError, fmt.Sprintf(MsgInvalidSyntax, pf.Reason))
	}
}

func (d *Dispatcher) allow(a domain.Audience) bool {
	if d.config.CommandRate <= 0 || a.IsPrivileged() {
		return true
	}
	burst := d.config.CommandBurst
	if burst <= 0 {
		burst = 1
	}

	d.mu.Lock()
	l, ok := d.limiters[a.ID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.config.CommandRate), burst)
		d.limiters[a.ID] = l
	}
	d.mu.Unlock()
	return l.Allow()
}

func (d *Dispatcher) reply(a domain.Audience, kind domain.MessageKind, message string) {
	if err := d.sender.Send(a, kind, message); err != nil {
		d.logger.Warn("failed to send message",
			zap.Stringer("audience", a),
			zap.Error(err))
	}
}
