// chatserver runs one chat replica: the gRPC service, the local SQLite
// store, and the cluster loops (heartbeats, election monitor). With --join it
// first locates the running leader and pulls a full state snapshot.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vzdtic/replicated-chat/pkg/chat"
	"github.com/vzdtic/replicated-chat/pkg/cluster"
	"github.com/vzdtic/replicated-chat/pkg/config"
	"github.com/vzdtic/replicated-chat/pkg/replication"
	"github.com/vzdtic/replicated-chat/pkg/rpc"
	"github.com/vzdtic/replicated-chat/pkg/store"
)

var (
	flagConfig        string
	flagManifest      string
	flagServerID      int
	flagHost          string
	flagPort          int
	flagInitialLeader bool
	flagJoin          bool
	flagDB            string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "chatserver",
		Short:         "Replicated chat server replica",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "replica TOML config file")
	rootCmd.Flags().StringVar(&flagManifest, "manifest", "", "cluster manifest TOML file")
	rootCmd.Flags().IntVar(&flagServerID, "server-id", 0, "replica id, doubles as election priority")
	rootCmd.Flags().StringVar(&flagHost, "host", "", "host to bind and advertise")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "port to bind and advertise")
	rootCmd.Flags().BoolVar(&flagInitialLeader, "initial-leader", false, "start as the configured leader")
	rootCmd.Flags().BoolVar(&flagJoin, "join", false, "join a running cluster via state transfer")
	rootCmd.Flags().StringVar(&flagDB, "db", "", "sqlite database file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, manifest, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.Int("server_id", cfg.ServerID))

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	peers := rpc.NewPeerClient()
	defer peers.Close()

	replica := cluster.New(cluster.Config{
		ServerID:          cfg.ServerID,
		Address:           cfg.Address(),
		Peers:             cfg.ReplicaAddresses,
		InitialLeader:     cfg.InitialLeader,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		LeaseTimeout:      cfg.LeaseTimeout(),
	}, peers, logger)

	fanout := replication.NewFanout(peers, cfg.Address(), logger)
	chatSvc := chat.NewService(st, replica, fanout, logger)
	server := rpc.NewServer(chatSvc, replica, st, logger)

	lis, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	if cfg.Join {
		candidates := joinCandidates(cfg, manifest)
		if len(candidates) == 0 {
			return fmt.Errorf("--join requires candidate addresses from --manifest or replica_addresses")
		}
		joiner := cluster.NewJoiner(peers, logger)
		if err := joiner.Join(context.Background(), replica, st, candidates); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
	}

	replica.Start()
	logger.Info("replica up",
		zap.String("address", cfg.Address()),
		zap.Bool("initial_leader", cfg.InitialLeader),
		zap.Bool("join", cfg.Join))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server stopped: %w", err)
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}

	server.Stop()
	replica.Stop()
	fanout.Wait()
	return nil
}

// loadConfig merges the config file, the manifest, and explicit flags. Flags
// that the user set win over file values.
func loadConfig(cmd *cobra.Command) (*config.Replica, *config.Manifest, error) {
	cfg := &config.Replica{}
	if flagConfig != "" {
		loaded, err := config.LoadReplica(flagConfig)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	var manifest *config.Manifest
	if flagManifest != "" {
		m, err := config.LoadManifest(flagManifest)
		if err != nil {
			return nil, nil, err
		}
		manifest = m
	}

	flags := cmd.Flags()
	if flags.Changed("server-id") {
		cfg.ServerID = flagServerID
	}
	if flags.Changed("host") {
		cfg.ServerHost = flagHost
	}
	if flags.Changed("port") {
		cfg.ServerPort = flagPort
	}
	if flags.Changed("initial-leader") {
		cfg.InitialLeader = flagInitialLeader
	}
	if flags.Changed("join") {
		cfg.Join = flagJoin
	}
	if flags.Changed("db") {
		cfg.DBFile = flagDB
	}

	if manifest != nil {
		if inst, ok := manifestInstance(manifest, cfg.ServerID); ok {
			if cfg.ServerHost == "" {
				cfg.ServerHost = inst.ServerHost
			}
			if cfg.ServerPort == 0 {
				cfg.ServerPort = inst.ServerPort
			}
			if !flags.Changed("initial-leader") && flagConfig == "" {
				cfg.InitialLeader = inst.InitialLeader
			}
		}
		if len(cfg.ReplicaAddresses) == 0 {
			cfg.ReplicaAddresses = manifest.ReplicaAddresses
			if len(cfg.ReplicaAddresses) == 0 {
				cfg.ReplicaAddresses = manifest.CandidateAddresses()
			}
		}
		if cfg.HeartbeatIntervalSec == 0 {
			cfg.HeartbeatIntervalSec = manifest.HeartbeatIntervalSec
		}
		if cfg.LeaseTimeoutSec == 0 {
			cfg.LeaseTimeoutSec = manifest.LeaseTimeoutSec
		}
	}

	cfg.ApplyDefaults()
	return cfg, manifest, nil
}

func manifestInstance(m *config.Manifest, serverID int) (config.Instance, bool) {
	for _, inst := range m.Instances {
		if inst.ServerID == serverID {
			return inst, true
		}
	}
	return config.Instance{}, false
}

// joinCandidates collects every address a joiner may probe for the leader,
// excluding its own.
func joinCandidates(cfg *config.Replica, manifest *config.Manifest) []string {
	seen := map[string]bool{cfg.Address(): true}
	var out []string
	add := func(addrs []string) {
		for _, a := range addrs {
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	add(cfg.ReplicaAddresses)
	if manifest != nil {
		add(manifest.CandidateAddresses())
		add(manifest.ReplicaAddresses)
	}
	return out
}
