package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fingerattend/internal/app"
	"fingerattend/internal/attendance"
	"fingerattend/internal/config"
	"fingerattend/internal/ledger"
	"fingerattend/internal/mirror"
	"fingerattend/internal/roster"
)

// Worker drains queued mirror pushes into the remote store, or with
// --resync pushes the whole local state once and exits.
func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var resync bool
	var target string
	flagSet := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flagSet.BoolVar(&resync, "resync", false, "push every roster identity and ledger row to the mirror, then exit")
	flagSet.StringVar(&target, "target", cfg.MirrorForward, "mirror backend to write to (redis, firebase, postgres)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if target == app.BackendQueue {
		return fmt.Errorf("target %q would re-enqueue every message", target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	logger := log.Default()
	backends := &app.Backends{}
	defer backends.Close()

	dest, err := backends.OpenMirror(ctx, cfg, target, logger)
	if err != nil {
		return fmt.Errorf("open %s mirror: %w", target, err)
	}

	if resync {
		return runResync(ctx, cfg, dest, logger)
	}
	return forward(ctx, cfg, backends, dest, logger)
}

func runResync(ctx context.Context, cfg config.App, dest mirror.Mirror, logger *log.Logger) error {
	dir, err := roster.Load(cfg.RosterPath, logger)
	if err != nil {
		return err
	}
	led := ledger.NewStore(cfg.LedgerRoot, cfg.LedgerExt, logger)

	rep, err := attendance.Resync(ctx, led, dir, dest, logger)
	if err != nil {
		return err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d of %d pushes failed", rep.Failed, rep.Identities+rep.Records)
	}
	return nil
}

func forward(ctx context.Context, cfg config.App, backends *app.Backends, dest mirror.Mirror, logger *log.Logger) error {
	q, err := backends.OpenQueue(cfg, logger)
	if err != nil {
		return err
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		pushCtx, cancel := context.WithTimeout(ctx, cfg.MirrorTimeout)
		err := mirror.Forward(pushCtx, msg, dest)
		cancel()
		if err != nil {
			// The queue has already handed the message over; resync repairs
			// whatever is lost here.
			log.Printf("forward %s failed: %v", msg.ID, err)
			continue
		}
		log.Printf("message %s forwarded", msg.ID)
		time.Sleep(10 * time.Millisecond) // Small delay between pushes
	}

	log.Println("worker stopped")
	return nil
}
