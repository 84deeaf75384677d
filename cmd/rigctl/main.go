package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rigctl/internal/observability"
)

func main() {
	flags := newCLIFlags("rigctl")
	if err := flags.fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := observability.InitLogger("rigctl")
	cfg, err := loadRigConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigctl: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg(describe(cfg))

	r, err := buildRig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := r.run(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "rigctl: %v\n", err)
		os.Exit(1)
	}
}
