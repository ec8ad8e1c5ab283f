package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kstaniek/go-mscan/cmd/mscanctl/cmd"
)

func main() {
	log.SetFlags(0)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
