package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	lib "github.com/theoremus-urban-solutions/sector-control"
)

func main() {
	fixes := flag.String("fixes", "-", "NDJSON fix stream: file path or - for stdin")
	replay := flag.Bool("replay", false, "pace fixes by their recorded timestamps")
	noServer := flag.Bool("no-server", false, "disable the status HTTP API")
	flag.Parse()

	lib.InitLogging()
	if err := lib.LoadAppConfig(); err != nil {
		log.Fatalf("config: %v", err)
	}

	m, err := lib.NewMonitor(lib.Config, nil)
	if err != nil {
		log.Fatalf("monitor: %v", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Printf("monitor close: %v", err)
		}
	}()

	// Pick up a sector run left behind by a previous process.
	if err := m.Bridge.Resume(); err != nil {
		log.Printf("bridge resume: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Route resolution runs in the background; tracking starts immediately
	// on the straight-line fallback.
	g.Go(func() error {
		m.ResolveRoutes(ctx)
		return nil
	})

	if !*noServer {
		lib.StartServer(m)
	}

	g.Go(func() error {
		defer cancel()
		return feedFixes(ctx, *fixes, *replay, m)
	})

	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigs:
			log.Printf("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("run: %v", err)
	}
	if !*noServer {
		lib.ShutdownServer()
	}
}
