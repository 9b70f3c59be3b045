package main

import (
	"os"

	"github.com/angelmondragon/bookitzzz-backend/pkg/bootstrap"
)

func main() {
	ctx, stop := bootstrap.SignalContext()
	defer stop()
	if err := newRootCmd(openRunner).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
