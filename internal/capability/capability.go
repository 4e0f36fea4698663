// Package capability holds reusable work routines.  Each Capability
// encapsulates one behaviour (run a command list, relay a terminal,
// log in first) and operates on a Connection rather than a concrete
// transport, which keeps capabilities testable against the pseudo
// and dummy protocols.
package capability

import (
	"context"

	"hostrun/internal/account"
	"hostrun/internal/connection"
)

// Capability does one job over a connection.  Its Handle method has
// the shape of an action.Func, so c.Handle can be passed straight to
// action.New.
type Capability interface {
	// Handle runs the capability against conn.  It blocks until the
	// work is done or ctx is cancelled.
	Handle(ctx context.Context, conn *connection.Connection) error
}

// Autologin opens the connection and logs in before handing over to
// Next.  A nil Account lets the action's acquisition policy choose.
type Autologin struct {
	Account *account.Account
	Next    Capability
}

// Handle connects, authenticates and runs Next.
func (a *Autologin) Handle(ctx context.Context, conn *connection.Connection) error {
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	if err := conn.Login(ctx, a.Account); err != nil {
		return err
	}
	if a.Next == nil {
		return nil
	}
	return a.Next.Handle(ctx, conn)
}
