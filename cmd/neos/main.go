// Command neos is the minimal admin entrypoint for the distributed core:
// serving one DHT node, joining the gossip cluster, and driving the
// indexing pipeline. It deliberately does not expose the HTTP/OpenAPI
// surface, the ranking CLI, or the crawler. It is built as a cobra root
// command with per-concern subcommands over the dht, cluster, transport,
// metrics, asyncbridge, index and config packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NEOS-AI/neos/internal/asyncbridge"
	"github.com/NEOS-AI/neos/internal/cluster"
	"github.com/NEOS-AI/neos/internal/dht"
	"github.com/NEOS-AI/neos/internal/index"
	"github.com/NEOS-AI/neos/internal/metrics"
	"github.com/NEOS-AI/neos/internal/transport"
	"github.com/NEOS-AI/neos/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "neos", Short: "neos distributed core admin CLI"}
	root.AddCommand(dhtCmd())
	root.AddCommand(indexCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configureCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dhtCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dht", Short: "DHT node operations"}
	cmd.AddCommand(dhtServeCmd())
	return cmd
}

// dhtServeCmd boots a single DHT node from a config file and serves it
// over the transport until interrupted, never exiting on transient
// errors.
func dhtServeCmd() *cobra.Command {
	var configPaths []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a single DHT node, bootstrapped or joined to a seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDht(configPaths)
			if err != nil {
				return err
			}
			return runDhtNode(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringSliceVar(&configPaths, "config-dir", []string{"."}, "directories searched for dht.yaml")
	return cmd
}

func runDhtNode(ctx context.Context, cfg *config.DhtConfig) error {
	log, _ := zap.NewProduction()
	defer log.Sync()
	sugar := log.Sugar()

	reg := metrics.New()

	var node *dht.Node
	shardID := cfg.Shard
	self := cluster.Member{Role: cluster.RoleDHT, Addr: cfg.Host, ShardID: &shardID}

	// Joining the gossip topic announces this node to the rest of the
	// cluster independently of the shard's own
	// replicated-log membership, which dht.Bootstrap/dht.Join track
	// separately since a gossip Member carries no NodeID.
	var gossipSeeds []string
	if cfg.Gossip != nil {
		gossipSeeds = cfg.Gossip.SeedNodes
	}
	gossipAddr := "/ip4/0.0.0.0/tcp/0"
	if cfg.Gossip != nil && cfg.Gossip.Addr != "" {
		gossipAddr = cfg.Gossip.Addr
	}
	clus, err := cluster.Join(gossipAddr, gossipSeeds, self)
	if err != nil {
		return fmt.Errorf("dht: join gossip cluster: %w", err)
	}
	defer clus.Close()

	replPool := dht.NewReplicatorPool()
	if cfg.SeedNode == "" {
		node = dht.Bootstrap(cfg.NodeID, cfg.Host, cfg.Shard, dht.NewRPCReplicator(replPool))
		sugar.Infow("dht: bootstrapped as sole voter", "node_id", cfg.NodeID, "shard", cfg.Shard)
	} else {
		node, err = dht.JoinViaSeed(replPool, cfg.SeedNode, cfg.NodeID, cfg.Host, cfg.Shard)
		if err != nil {
			return fmt.Errorf("dht: join cluster: %w", err)
		}
		sugar.Infow("dht: joined cluster via seed", "node_id", cfg.NodeID, "seed", cfg.SeedNode)
	}
	node.SetMetrics(reg)

	srv, err := transport.Bind(cfg.Host, dht.ReqCodec, dht.RespCodec, dht.Service(node), sugar)
	if err != nil {
		return fmt.Errorf("dht: bind %s: %w", cfg.Host, err)
	}
	defer srv.Close()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		srv.Close()
	}()

	sugar.Infow("dht: serving", "addr", srv.Addr().String())
	if err := srv.Serve(); err != nil {
		return fmt.Errorf("dht: serve: %w", err)
	}
	return nil
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "index", Short: "indexing pipeline operations"}
	cmd.AddCommand(indexRunCmd())
	return cmd
}

func indexRunCmd() *cobra.Command {
	var configPaths []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the full WARC ingest -> merge -> publish pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadIndexer(configPaths)
			if err != nil {
				return err
			}
			reg := metrics.New()
			index.SetMetrics(reg)

			worker, err := index.NewWorker(*cfg, 0, nil, nil, nil)
			if err != nil {
				return err
			}
			worker.SetMetrics(reg)

			logrus.Infof("index: starting run, output=%s", cfg.OutputPath)
			// The pipeline itself is CPU-bound, but worker.PrepareWebpages
			// may call out to a network-backed CentralityStore; crossing
			// that boundary through the bridge keeps this compute-bound
			// CLI entrypoint from spawning its own ad-hoc goroutine pool
			// for it.
			err = asyncbridge.Default().Run(func(ctx context.Context) error {
				return index.Run(*cfg, worker)
			})
			if err != nil {
				return err
			}
			logrus.Infof("index: published to %s", cfg.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&configPaths, "config-dir", []string{"."}, "directories searched for indexer.yaml")
	return cmd
}

// statusCmd joins the gossip topic as a short-lived API member, waits for
// membership to gossip in, and prints one line per known service.
func statusCmd() *cobra.Command {
	var seeds []string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the cluster membership seen via gossip",
		RunE: func(cmd *cobra.Command, args []string) error {
			clus, err := cluster.Join("/ip4/0.0.0.0/tcp/0", seeds, cluster.Member{Role: cluster.RoleAPI})
			if err != nil {
				return err
			}
			defer clus.Close()

			time.Sleep(wait)
			for _, s := range clus.Status() {
				if s.Service.ShardID != nil {
					fmt.Printf("%s\t%s\t%s\tshard=%d\n", s.ID, s.Service.Role, s.Service.Addr, *s.Service.ShardID)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", s.ID, s.Service.Role, s.Service.Addr)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "gossip seed multiaddrs to dial")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to listen for membership gossip")
	return cmd
}

// configureCmd is the minimal admin-config stub (`~/.config/neos/admin.toml`):
// everything beyond reading and printing it back is the admin CLI
// surface, which this core does not implement.
func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "print the resolved admin configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAdmin()
			if err != nil {
				return err
			}
			fmt.Printf("admin host: %s\n", cfg.Host)
			return nil
		},
	}
}
