package builtin

import (
	"context"
	"fmt"

	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/scheduler"
)

// Tasks shows scheduler counters.
func Tasks(sched *scheduler.Scheduler) command.Definition {
	return command.Definition{
		Name:        "tasks",
		Description: "Show scheduler queues.",
		Permission:  NodeTasks,
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			st := sched.Stats()
			return inv.Reply(fmt.Sprintf(
				"tick=%d pending=%d delayed=%d queued_async=%d running_async=%d workers=%d",
				st.Tick, st.PendingTick, st.Delayed, st.QueuedAsync, st.RunningAsync, st.Workers))
		}),
	}
}
