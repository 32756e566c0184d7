// Command redcoredemo is a small standalone-topology walkthrough: dial a
// server, run a few commands, flip on the tracking cache, and shut down
// cleanly on SIGINT/SIGTERM. It mirrors the teacher's example/main.go —
// same "print what you're doing, then do it" shape — turned from a server
// demo into a client one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore"
	"github.com/l00pss/redcore/cache"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "server address")
	withCache := flag.Bool("cache", false, "enable the tracking cache")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "redcoredemo: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cl, err := redcore.New(redcore.Options{
		Topology:    redcore.TopologyStandalone,
		URL:         "redis://" + *addr,
		PoolSize:    4,
		Logger:      logger,
		EnableCache: *withCache,
		Cache:       cache.Options{Mode: cache.ModeDefault, MaxEntries: 1024},
		CacheTTL:    30 * time.Second,
	})
	if err != nil {
		logger.Fatal("redcoredemo: building client", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		fmt.Println("\nShutting down...")
		cancel()
		if err := cl.Close(); err != nil {
			logger.Warn("redcoredemo: close error", zap.Error(err))
		}
		os.Exit(0)
	}()

	fmt.Printf("Connecting to %s...\n", *addr)
	fmt.Println("Try: SET, GET, PING round trips below. Ctrl-C to exit.")

	if _, err := cl.Call(ctx, "PING"); err != nil {
		logger.Fatal("redcoredemo: PING failed", zap.Error(err))
	}
	fmt.Println("PING: PONG")

	if _, err := cl.Call(ctx, "SET", "redcoredemo:greeting", "hello from redcore"); err != nil {
		logger.Fatal("redcoredemo: SET failed", zap.Error(err))
	}

	v, err := cl.Call(ctx, "GET", "redcoredemo:greeting")
	if err != nil {
		logger.Fatal("redcoredemo: GET failed", zap.Error(err))
	}
	fmt.Printf("GET redcoredemo:greeting -> %q\n", v.Bulk)

	if *withCache {
		// A second GET for the same key should now be served from the
		// tracking cache instead of round-tripping.
		if _, err := cl.Call(ctx, "GET", "redcoredemo:greeting"); err != nil {
			logger.Fatal("redcoredemo: cached GET failed", zap.Error(err))
		}
		fmt.Println("second GET served from the tracking cache")
	}

	if err := cl.Close(); err != nil {
		logger.Fatal("redcoredemo: close error", zap.Error(err))
	}
	fmt.Println("done")
}
