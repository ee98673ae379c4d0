// Command torwell-verify drives the Torwell84 frontend in a headless browser
// and checks that its key screens render.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newRootCommand(newGlobalState(ctx)).execute(os.Args[1:])
	stop()
	os.Exit(code)
}
