package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateName is returned when a command name or alias is taken.
	ErrDuplicateName = errors.New("duplicate command name")

	// ErrSchedulerShutdown is returned when work is submitted after shutdown.
	ErrSchedulerShutdown = errors.New("scheduler is shut down")

	// ErrDrainTimeout is returned when async tasks outlive the grace period.
	ErrDrainTimeout = errors.New("async tasks still running after grace period")

	// ErrGroupCycle is matched by every *CycleError.
	ErrGroupCycle = errors.New("group inheritance cycle")

	// ErrUnknownGroup is returned when a parent references a missing group.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrInvalidNode is returned for empty or malformed permission nodes.
	ErrInvalidNode = errors.New("invalid permission node")

	// ErrRateLimited is returned when an audience dispatches too fast.
	ErrRateLimited = errors.New("rate limited")

	// ErrWrongAudience is returned when a command's scope excludes the sender.
	ErrWrongAudience = errors.New("command not available to this audience")

	// ErrUnknownAudience is returned when an audience reference is not connected.
	ErrUnknownAudience = errors.New("unknown audience")
)

// FailureKind classifies a parse failure.
type FailureKind int

const (
	UnknownCommand FailureKind = iota + 1
	BadArgument
	InvalidSyntax
)

func (k FailureKind) String() string {
	switch k {
	case UnknownCommand:
		return "unknown command"
	case BadArgument:
		return "bad argument"
	case InvalidSyntax:
		return "invalid syntax"
	}
	return "unknown failure"
}

// ParseFailure reports why raw input did not become an invocation.
// Index is the zero-based argument position; Index and Expected are
// meaningful for BadArgument only.
type ParseFailure struct {
	Kind     FailureKind
	Command  string
	Index    int
	Argument string
	Expected string
	Token    string
	Reason   string
}

func (f *ParseFailure) Error() string {
	switch f.Kind {
	case UnknownCommand:
		return fmt.Sprintf("unknown command %q", f.Command)
	case BadArgument:
		name := f.Argument
		if name == "" {
			name = "-"
		}
		if f.Token == "" {
			return fmt.Sprintf("%s: argument #%d (%s): expected %s", f.Command, f.Index+1, name, f.Expected)
		}
		return fmt.Sprintf("%s: argument #%d (%s): expected %s, got %q", f.Command, f.Index+1, name, f.Expected, f.Token)
	default:
		return "invalid syntax: " + f.Reason
	}
}

// PermissionDeniedError is returned when the audience lacks the required node.
type PermissionDeniedError struct {
	Node string
}

func (e *PermissionDeniedError) Error() string {
	return "permission denied: " + e.Node
}

// HandlerFailure wraps an error or panic raised by a command handler.
type HandlerFailure struct {
	Command  string
	Audience string
	Cause    error
}

func (e *HandlerFailure) Error() string {
	if e.Audience == "" {
		return fmt.Sprintf("command %s failed: %v", e.Command, e.Cause)
	}
	return fmt.Sprintf("command %s failed for %s: %v", e.Command, e.Audience, e.Cause)
}

func (e *HandlerFailure) Unwrap() error {
	return e.Cause
}

// CycleError describes a parent cycle found while loading groups.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "group inheritance cycle: " + strings.Join(e.Path, " -> ")
}

// Is makes errors.Is(err, ErrGroupCycle) match.
func (e *CycleError) Is(target error) bool {
	return target == ErrGroupCycle
}
