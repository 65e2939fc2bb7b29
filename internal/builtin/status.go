package builtin

import (
	"context"
	"fmt"

	"github.com/weblate/distributor/internal/command"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/scheduler"
)

// Status reports tick and process health. Sampling the process can block,
// so it runs on the async pool and the reply is sent from a later tick.
func Status(sched *scheduler.Scheduler, process domain.ProcessInspector, tickRate int) command.Definition {
	return command.Definition{
		Name:        "status",
		Description: "Show tick and process statistics.",
		Permission:  NodeStatus,
		Handler: command.HandlerFunc(func(_ context.Context, inv *command.Invocation) error {
			_, err := sched.RunAsync("status:sample", func(context.Context, *scheduler.Task) error {
				ps, sampleErr := process.Stats()
				_, err := sched.RunOnTick("status:reply", func(context.Context, *scheduler.Task) error {
					if sampleErr != nil {
						return inv.Warn("Process statistics unavailable: " + sampleErr.Error())
					}
					return inv.Reply(formatStatus(sched.Stats(), ps, tickRate))
				})
				if sampleErr != nil {
					return fmt.Errorf("failed to sample process: %w", sampleErr)
				}
				return err
			})
			return err
		}),
	}
}

func formatStatus(st scheduler.Stats, ps domain.ProcessStats, tickRate int) string {
	rate := "host driven"
	if tickRate > 0 {
		rate = fmt.Sprintf("%d/s", tickRate)
	}
	return fmt.Sprintf(
		"Tick %d (%s), %d pending, %d delayed, %d async running\n"+
			"PID %d, RSS %.1f MiB, CPU %.1f%%, %d threads, %d goroutines, up %ds",
		st.Tick, rate, st.PendingTick, st.Delayed, st.RunningAsync,
		ps.PID, float64(ps.RSSBytes)/(1<<20), ps.CPUPercent, ps.NumThreads, ps.Goroutines, ps.UptimeMilli/1000,
	)
}
