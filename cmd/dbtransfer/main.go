package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// errRunFailed signals a completed command whose outcome was not a success;
// the details have already been printed.
var errRunFailed = errors.New("transfer did not complete successfully")

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "dbtransfer error: %v\n", err)
		}
		os.Exit(1)
	}
}
