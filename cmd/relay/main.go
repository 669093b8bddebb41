// Command relay serves shared tavern sessions to websocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/internal/multiplayer/mongostore"
	"tavern/internal/multiplayer/wsrelay"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides TAVERN_RELAY_ADDR)")
	origins := flag.String("origins", "", "comma-separated browser origins to admit, or *")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr, *origins); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, origins string) error {
	cfg, err := core.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := core.NewLogger(cfg.LogLevel)
	core.SetDefault(logger)
	if addr == "" {
		addr = cfg.RelayAddr
	}

	var store multiplayer.Store = multiplayer.NewMemoryStore()
	if cfg.MongoURI != "" {
		mongo, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return err
		}
		defer mongo.Close(context.Background())
		store = mongo
	}

	relay := wsrelay.NewServer(store, strings.Split(origins, ","), logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down relay", "connections", relay.Connections())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
