package capability

import (
	"bufio"
	"context"
	"io"

	"hostrun/internal/connection"
)

// Relay feeds Stdin to the host line by line and copies everything the
// host sends to Stdout.  It returns when Stdin is exhausted.
type Relay struct {
	Stdin  io.Reader
	Stdout io.Writer
}

// Handle relays until Stdin hits EOF or ctx is cancelled.
func (r *Relay) Handle(ctx context.Context, conn *connection.Connection) error {
	sub := conn.DataReceived.Listen(func(b []byte) {
		r.Stdout.Write(b) //nolint:errcheck
	})
	defer conn.DataReceived.Disconnect(sub)

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text() + "\n":
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			if err := conn.Send(line); err != nil {
				return err
			}
		}
	}
}
