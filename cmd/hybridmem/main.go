// Command hybridmem operates a persistent hybrid memory graph from the shell.
//
// State lives in the configured snapshot database (SQLite by default). Every
// command loads the latest snapshot, runs, and saves it back when it changed
// something.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/logging"
	"github.com/cognisphere/hybridmem-go/pkg/storage"
)

var (
	cfgFile  string
	graphID  string
	logLevel string
	pretty   bool

	rootCmd = &cobra.Command{
		Use:   "hybridmem",
		Short: "Hybrid graph and vector memory for simulated agents",
		Long: `hybridmem stores agent memories in a relationship graph and a vector
index at the same time, and answers queries by fusing both.

Configuration is read from HYBRIDMEM_* environment variables (and a .env
file), or from a JSON file given with --config.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&graphID, "graph", "", "graph id to load (default: latest snapshot)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = core.LoadConfigFromJSON(cfgFile)
	} else {
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if pretty {
		cfg.Logging.Pretty = true
	}
	if graphID != "" {
		cfg.GraphID = graphID
	}
	return cfg, cfg.Validate()
}

// session is a manager bound to its snapshot store for one command.
type session struct {
	cfg   *core.Config
	mgr   *core.Manager
	store storage.SnapshotStore
	log   zerolog.Logger
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Logging)

	mgr, err := core.NewManager(cfg, core.WithLogger(log))
	if err != nil {
		return nil, err
	}
	store, err := core.OpenSnapshotStore(cfg.Storage)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}

	err = mgr.LoadSnapshot(ctx, store, graphID)
	switch {
	case errors.Is(err, core.ErrNotFound) && graphID == "":
		log.Info().Str("graph_id", mgr.GraphID()).Msg("no snapshot found, starting empty")
	case err != nil:
		_ = store.Close()
		_ = mgr.Close()
		return nil, err
	}
	return &session{cfg: cfg, mgr: mgr, store: store, log: log}, nil
}

func (s *session) save(ctx context.Context) error {
	return s.mgr.SaveSnapshot(ctx, s.store)
}

func (s *session) Close() error {
	return errors.Join(s.store.Close(), s.mgr.Close())
}

// withSession runs fn on an open session and saves afterwards when write is set.
func withSession(cmd *cobra.Command, write bool, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := fn(ctx, s); err != nil {
		return err
	}
	if write {
		if err := s.save(ctx); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}
