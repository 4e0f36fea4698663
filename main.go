// hostrun runs commands on many network hosts over SSH, Telnet or
// recorded fixtures, leasing login accounts from a shared pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostrun/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hostrun: %v\n", err)
		os.Exit(1)
	}
}
