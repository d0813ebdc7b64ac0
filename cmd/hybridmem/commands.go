package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cognisphere/hybridmem-go/pkg/core"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/maintenance"
)

var (
	addKind       string
	addAgent      string
	addOther      string
	addRelation   string
	addImportance float64
	addValence    float64

	searchKinds     []string
	searchRelations []string
	searchMax       int
	searchMinSim    float64
	searchMinImp    float64
	searchContext   []string

	relatedMax int

	serveAddr string
)

var (
	agentCmd = &cobra.Command{
		Use:   "agent <id> [description]",
		Short: "Register an agent or update its description",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := ""
			if len(args) == 2 {
				description = args[1]
			}
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				return s.mgr.RegisterAgent(args[0], description)
			})
		},
	}

	addCmd = &cobra.Command{
		Use:   "add <content>",
		Short: "Record a memory",
		Long: `Record a memory for an agent. Social memories need --other and
--relation, e.g.

  hybridmem add --kind social --agent a1 --other a2 --relation traded_with "swapped salt for fish"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				opts := []core.MemoryOption{core.WithValence(addValence)}
				var (
					nodeID, vectorID string
					err              error
				)
				if graph.Kind(addKind) == graph.KindSocial {
					nodeID, vectorID, err = s.mgr.AddSocialMemory(ctx, args[0], addAgent, addOther,
						graph.Relation(addRelation), addImportance, opts...)
				} else {
					nodeID, vectorID, err = s.mgr.AddMemory(ctx, graph.Kind(addKind), args[0], addAgent, addImportance, opts...)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "node %s\nvector %s\n", nodeID, vectorID)
				return nil
			})
		},
	}

	searchCmd = &cobra.Command{
		Use:   "search <text>",
		Short: "Run a hybrid memory query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := &core.MemoryQuery{
				Text:                args[0],
				MaxResults:          searchMax,
				SimilarityThreshold: searchMinSim,
				ImportanceThreshold: searchMinImp,
				ContextMemories:     searchContext,
			}
			for _, k := range searchKinds {
				q.Kinds = append(q.Kinds, graph.Kind(k))
			}
			for _, r := range searchRelations {
				q.Relations = append(q.Relations, graph.Relation(r))
			}
			// searching reinforces the returned memories, so the state is saved
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				results, err := s.mgr.Search(ctx, q)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, r := range results {
					fmt.Fprintf(out, "%2d. [%s %.3f] %s", i+1, r.Source, r.Relevance, r.Content())
					if len(r.RelationshipPath) > 1 {
						fmt.Fprintf(out, "  (related: %s)", strings.Join(r.RelationshipPath[1:], ", "))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	relatedCmd = &cobra.Command{
		Use:   "related <memory-id>",
		Short: "List the memories closest to a stored memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				results, err := s.mgr.GetRelatedMemories(ctx, args[0], relatedMax)
				if err != nil {
					return err
				}
				for i, r := range results {
					fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.3f] %s  (%s)\n", i+1, r.Similarity, r.Content(), r.ID())
				}
				return nil
			})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print graph, index and cache statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s.mgr.Statistics())
			})
		},
	}

	maintainCmd = &cobra.Command{
		Use:   "maintain",
		Short: "Run one decay and cleanup pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				sched, err := maintenance.New(s.mgr, maintenance.ConfigFrom(s.cfg), s.log)
				if err != nil {
					return err
				}
				res, err := sched.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "decayed %s, removed %d nodes and edges\n", res.Decayed.Round(time.Second), res.Removed())
				return nil
			})
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Write the memory graph as a JSON snapshot (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				if len(args) == 0 {
					return s.mgr.ExportJSON(cmd.OutOrStdout())
				}
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				if err := s.mgr.ExportJSON(f); err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			})
		},
	}

	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the memory graph with a JSON snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				return s.mgr.ImportJSON(ctx, f)
			})
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled maintenance and expose Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			mcfg := maintenance.ConfigFrom(s.cfg)
			mcfg.Store = s.store
			sched, err := maintenance.New(s.mgr, mcfg, s.log)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(s.mgr.Metrics().Registry, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: serveAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			s.log.Info().Str("addr", serveAddr).Msg("serving metrics")

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn().Err(err).Msg("metrics server shutdown")
			}
			return s.save(shutdownCtx)
		},
	}
)

func init() {
	addCmd.Flags().StringVar(&addKind, "kind", string(graph.KindEpisodic), "memory kind")
	addCmd.Flags().StringVar(&addAgent, "agent", "", "owning agent id")
	addCmd.Flags().StringVar(&addOther, "other", "", "other agent of a social memory")
	addCmd.Flags().StringVar(&addRelation, "relation", string(graph.RelKnows), "relationship of a social memory")
	addCmd.Flags().Float64Var(&addImportance, "importance", 0.5, "importance in [0, 1]")
	addCmd.Flags().Float64Var(&addValence, "valence", 0, "emotional valence in [-1, 1]")

	searchCmd.Flags().StringSliceVar(&searchKinds, "kind", nil, "restrict to memory kinds")
	searchCmd.Flags().StringSliceVar(&searchRelations, "relation", nil, "enable the graph path for these relationships")
	searchCmd.Flags().IntVar(&searchMax, "max", core.DefaultMaxResults, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "minimum vector similarity")
	searchCmd.Flags().Float64Var(&searchMinImp, "min-relevance", 0, "minimum relevance")
	searchCmd.Flags().StringSliceVar(&searchContext, "context", nil, "memory ids blended into the query")

	relatedCmd.Flags().IntVar(&relatedMax, "max", core.DefaultMaxResults, "maximum number of results")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":9090", "metrics listen address")

	rootCmd.AddCommand(agentCmd, addCmd, searchCmd, relatedCmd, statsCmd, maintainCmd, exportCmd, importCmd, serveCmd)
}
