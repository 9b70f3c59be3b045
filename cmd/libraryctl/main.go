package main

import (
	"os"

	"github.com/angelmondragon/bookitzzz-backend/pkg/bootstrap"
)

func main() {
	ctx, stop := bootstrap.SignalContext()
	defer stop()
	if err := newRootCmd(defaultBootstrap).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
