// Package plugin wires the runtime together and owns its lifecycle.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/builtin"
	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/config"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/permission"
	"github.com/weblate/distributor/internal/scheduler"
	"github.com/weblate/distributor/internal/usecase"
)

// ErrNotStarted is returned by Dispatch before Start or after Stop.
var ErrNotStarted = errors.New("plugin is not running")

// Deps are the host-provided collaborators.
type Deps struct {
	Store   domain.PermissionStore
	Sender  domain.MessageSender
	Process domain.ProcessInspector
	Logger  *zap.Logger
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Plugin is one runtime instance.
type Plugin struct {
	cfg    config.Config
	logger *zap.Logger

	directory   *audience.Directory
	broadcaster *audience.Broadcaster
	permissions *permission.Manager
	registry    *command.Registry
	scheduler   *scheduler.Scheduler
	pump        *scheduler.Pump
	dispatcher  *usecase.Dispatcher
	process     domain.ProcessInspector

	mu    sync.Mutex
	state lifecycle
}

// New wires every component. Nothing runs until Start.
func New(cfg config.Config, deps Deps) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sender == nil {
		return nil, errors.New("message sender is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	process := deps.Process
	if process == nil {
		process = unavailableProcess{}
	}

	p := &Plugin{
		cfg:         cfg,
		logger:      logger,
		directory:   audience.NewDirectory(logger.Named("audience")),
		broadcaster: audience.NewBroadcaster(deps.Sender),
		permissions: permission.NewManager(permission.NewResolver(nil), deps.Store, logger.Named("permission")),
		registry:    command.NewRegistry(cfg.Namespace),
		scheduler:   scheduler.New(scheduler.Config{AsyncWorkers: cfg.AsyncWorkers}, logger.Named("scheduler")),
		process:     process,
	}
	p.pump = scheduler.NewPump(p.scheduler, cfg.TickRate, logger.Named("pump"))
	p.dispatcher = usecase.NewDispatcher(
		command.NewParser(p.registry),
		p.permissions.Resolver(),
		p.scheduler,
		p.broadcaster,
		usecase.DispatcherConfig{CommandRate: cfg.CommandRate, CommandBurst: cfg.CommandBurst},
		logger.Named("dispatcher"),
	)
	return p, nil
}

// Registry is where the host registers its own commands.
func (p *Plugin) Registry() *command.Registry { return p.registry }

// Scheduler returns the tick scheduler.
func (p *Plugin) Scheduler() *scheduler.Scheduler { return p.scheduler }

// Permissions returns the permission manager.
func (p *Plugin) Permissions() *permission.Manager { return p.permissions }

// Directory returns the online audience directory.
func (p *Plugin) Directory() *audience.Directory { return p.directory }

// Start loads permissions, registers the built-ins and starts the scheduler.
// With a positive tick rate the runtime drives its own ticks; otherwise the
// host must call Scheduler().Tick.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateNew {
		return fmt.Errorf("plugin cannot start twice")
	}

	if err := p.permissions.Load(); err != nil {
		return err
	}
	if p.cfg.DefaultGroup != "" {
		if err := p.permissions.SetDefaultGroup(p.cfg.DefaultGroup); err != nil {
			return fmt.Errorf("failed to apply default group: %w", err)
		}
	}
	if v := p.cfg.VerifyOperator; v != nil {
		if err := p.permissions.Update(func(t *domain.PermissionTable) error {
			t.VerifyOperator = *v
			return nil
		}); err != nil {
			return fmt.Errorf("failed to apply verify operator: %w", err)
		}
	}

	err := builtin.Register(builtin.Deps{
		Registry:    p.registry,
		Permissions: p.permissions,
		Scheduler:   p.scheduler,
		Players:     audience.NewPlayerLookup(p.directory),
		Process:     p.process,
		TickRate:    p.cfg.TickRate,
		Logger:      p.logger.Named("builtin"),
	})
	if err != nil {
		return err
	}

	p.scheduler.Start()
	if p.cfg.TickRate > 0 {
		p.pump.Start(ctx)
	}
	p.state = stateRunning

	p.logger.Info("plugin started",
		zap.String("namespace", p.registry.Namespace()),
		zap.Int("commands", p.registry.Len()),
		zap.Int("tick_rate", p.cfg.TickRate),
		zap.Int("async_workers", p.cfg.AsyncWorkers))
	return nil
}

// Dispatch runs text as a command for the connected audience ref.
func (p *Plugin) Dispatch(ctx context.Context, text, ref string) (*scheduler.Task, error) {
	if !p.running() {
		return nil, ErrNotStarted
	}
	a, ok := p.directory.Get(ref)
	if !ok {
		return nil, fmt.Errorf("%w %q", domain.ErrUnknownAudience, ref)
	}
	return p.dispatcher.Dispatch(ctx, text, a)
}

// Connect adds a player to the directory.
func (p *Plugin) Connect(a domain.Audience) error {
	return p.directory.Connect(a)
}

// Disconnect removes a player and its rate limiter.
func (p *Plugin) Disconnect(id string) {
	p.directory.Disconnect(id)
	p.dispatcher.Forget(id)
}

// Broadcast sends a message to an audience, expanding groups.
func (p *Plugin) Broadcast(a domain.Audience, kind domain.MessageKind, message string) error {
	return p.broadcaster.Send(a, kind, message)
}

// Stop halts the pump, drains the scheduler within the shutdown grace period
// and disconnects everyone. It returns domain.ErrDrainTimeout when async work
// outlived the grace period.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != stateRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	p.mu.Unlock()

	p.pump.Stop()

	graceCtx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownGrace)
	defer cancel()
	err := p.scheduler.Shutdown(graceCtx)
	p.directory.Clear()

	if err != nil {
		p.logger.Warn("plugin stopped with work still running", zap.Error(err))
		return err
	}
	p.logger.Info("plugin stopped")
	return nil
}

func (p *Plugin) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateRunning
}

type unavailableProcess struct{}

func (unavailableProcess) Stats() (domain.ProcessStats, error) {
	return domain.ProcessStats{}, errors.New("process inspection is disabled")
}
