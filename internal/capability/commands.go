package capability

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"hostrun/internal/connection"
)

// Commands runs a fixed command list and prints each output line as
// "host: line".  Output is shared by every host, so a host's block is
// written in one piece.
type Commands struct {
	Lines  []string
	Output io.Writer

	// ContinueOnError keeps going after a failed command and returns
	// the first error at the end.
	ContinueOnError bool

	mu sync.Mutex
}

// Handle runs every command in order.
func (c *Commands) Handle(ctx context.Context, conn *connection.Connection) error {
	var first error
	for _, cmd := range c.Lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := conn.Execute(ctx, cmd)
		c.print(conn.Host().Name(), out)
		if err != nil {
			err = fmt.Errorf("%s: %q: %w", conn.Host().Name(), cmd, err)
			if !c.ContinueOnError {
				return err
			}
			if first == nil {
				first = err
			}
			conn.Logger.Warn("%v", err)
		}
	}
	return first
}

func (c *Commands) print(name, out string) {
	if c.Output == nil || out == "" {
		return
	}
	var b strings.Builder
	for _, line := range strings.Split(out, "\n") {
		fmt.Fprintf(&b, "%s: %s\n", name, strings.TrimRight(line, "\r"))
	}
	c.mu.Lock()
	io.WriteString(c.Output, b.String()) //nolint:errcheck
	c.mu.Unlock()
}

// LoadScript reads a command file: one command per line, blank lines
// and lines starting with '#' skipped.
func LoadScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return lines, nil
}
