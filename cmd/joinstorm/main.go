package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/matchpoint/internal/joinstorm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := joinstorm.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("joinstorm: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
