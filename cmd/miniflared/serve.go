package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgesim/miniflare/pkg/cache"
	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/events"
	"github.com/edgesim/miniflare/pkg/httpapi"
	"github.com/edgesim/miniflare/pkg/kv"
	"github.com/edgesim/miniflare/pkg/log"
	"github.com/edgesim/miniflare/pkg/object"
	"github.com/edgesim/miniflare/pkg/servicebinding"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator's HTTP surface",
	Long: `Start miniflared serving the KV namespace engine, the HTTP cache
engine, Durable Object storage/transactions/gates, and service-binding
dispatch over one HTTP listener.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8787", "Address to serve HTTP on")
	serveCmd.Flags().String("config", "", "Path to a YAML limits override file")
	serveCmd.Flags().String("data-dir", "", "Directory for on-disk (bbolt) persistence; empty means in-memory only")
	serveCmd.Flags().Duration("sweep-interval", 30*time.Second, "Background expiration-sweep interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")

	limits := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		limits = loaded
	}

	clk := clock.Real{}

	newObjectStore := storageFactory(dataDir, "objects", clk)
	newKVStore := storageFactory(dataDir, "kv", clk)
	defaultCacheStore, err := openStore(dataDir, filepath.Join("cache", "default"), clk)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	objects := object.NewRegistry(limits, broker, newObjectStore)
	kvRegistry := kv.NewRegistry(limits, newKVStore)
	cacheStorage := cache.New(defaultCacheStore)
	dispatcher := servicebinding.New(limits)

	sweeper := sweep.New(sweepInterval, func() []storage.Operator {
		ops := objects.Operators()
		ops = append(ops, kvRegistry.Operators()...)
		ops = append(ops, defaultCacheStore)
		return ops
	})
	sweeper.Start()
	defer sweeper.Stop()

	server := httpapi.NewServer(limits, kvRegistry, cacheStorage, objects, dispatcher)

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("serve").Info().Str("addr", addr).Msg("http server starting")
		if err := server.Start(addr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.WithComponent("serve").Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// storageFactory returns a newOp func for a kv.Registry or object.Registry:
// in-memory when dataDir is empty, otherwise a BoltAdapter rooted at a
// per-ID subdirectory under dataDir/subdir.
func storageFactory(dataDir, subdir string, clk clock.Clock) func(id string) storage.Operator {
	if dataDir == "" {
		return func(string) storage.Operator { return storage.NewMemoryStore(clk) }
	}
	return func(id string) storage.Operator {
		store, err := openStore(dataDir, filepath.Join(subdir, sanitizeID(id)), clk)
		if err != nil {
			log.WithComponent("serve").Error().Err(err).Str("id", id).Msg("failed to open on-disk storage, falling back to memory")
			return storage.NewMemoryStore(clk)
		}
		return store
	}
}

func openStore(dataDir, rel string, clk clock.Clock) (storage.Operator, error) {
	if dataDir == "" {
		return storage.NewMemoryStore(clk), nil
	}
	dir := filepath.Join(dataDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return storage.NewBoltAdapter(dir, clk)
}

// sanitizeID maps an arbitrary object/namespace ID to a filesystem-safe
// directory name; collisions across distinct IDs that differ only in
// the replaced characters are acceptable for this local simulator.
func sanitizeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
