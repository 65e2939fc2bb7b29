package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/weblate/distributor/internal/audience"
	"github.com/weblate/distributor/internal/domain"
	"github.com/weblate/distributor/internal/plugin"
)

// console feeds stdin lines to the runtime.
type console struct {
	plugin *plugin.Plugin
	out    io.Writer
}

func newConsole(p *plugin.Plugin, out io.Writer) *console {
	return &console{plugin: p, out: out}
}

// Run reads lines until EOF, ".quit" or ctx is canceled.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one console line and reports whether the console should stop.
func (c *console) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		return false
	case line == ".quit":
		return true
	case strings.HasPrefix(line, ".join"):
		c.join(strings.Fields(line)[1:])
		return false
	case strings.HasPrefix(line, ".leave"):
		fields := strings.Fields(line)
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: .leave <id>")
			return false
		}
		c.plugin.Disconnect(fields[1])
		return false
	}

	ref := domain.ConsoleID
	if strings.HasPrefix(line, "@") {
		id, rest, _ := strings.Cut(line[1:], " ")
		ref, line = id, strings.TrimSpace(rest)
	}

	// Rejections were already reported to the audience
	_, err := c.plugin.Dispatch(ctx, line, ref)
	if errors.Is(err, domain.ErrUnknownAudience) || errors.Is(err, plugin.ErrNotStarted) {
		fmt.Fprintln(c.out, err)
	}
	return false
}

func (c *console) join(args []string) {
	if len(args) < 2 || len(args) > 3 || (len(args) == 3 && args[2] != "op") {
		fmt.Fprintln(c.out, "usage: .join <id> <name> [op]")
		return
	}
	var opts []audience.Option
	if len(args) == 3 {
		opts = append(opts, audience.WithOperator())
	}
	if err := c.plugin.Connect(audience.Player(args[0], args[1], opts...)); err != nil {
		fmt.Fprintln(c.out, err)
	}
}
