package cli

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/blockchain"
	"github.com/meridian-bft/meridian/committee"
	"github.com/meridian-bft/meridian/consensus"
	"github.com/meridian-bft/meridian/coordinator"
	"github.com/meridian-bft/meridian/crypto"
	"github.com/meridian-bft/meridian/eventloop"
	"github.com/meridian-bft/meridian/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a consensus replica",
	RunE: func(*cobra.Command, []string) error {
		return runReplica()
	},
}

func init() {
	runCmd.Flags().Uint64("id", 0, "replica id when running without a coordinator")
	if err := viper.BindPFlags(runCmd.Flags()); err != nil {
		panic(err)
	}
}

func runReplica() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seed := viper.GetUint64("seed")
	totalNodes := viper.GetUint64("total-nodes")
	timeout := time.Duration(viper.GetUint64("timeout")) * time.Millisecond

	var (
		id    meridian.ID
		table []coordinator.StakeEntry
	)

	if base := viper.GetString("coordinator"); base != "" {
		client := coordinator.NewClient(base)

		index, err := client.Identity(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain node index: %w", err)
		}
		id = meridian.ID(index)

		config, err := client.Config(ctx, index)
		if err != nil {
			return fmt.Errorf("failed to fetch network config: %w", err)
		}
		seed, totalNodes = config.Seed, config.TotalNodes
		timeout = time.Duration(config.TimeoutMS) * time.Millisecond

		signer, err := signerForIndex(seed, index)
		if err != nil {
			return err
		}
		pubKey, err := crypto.MarshalPublicKey(signer.PublicKey())
		if err != nil {
			return fmt.Errorf("failed to marshal public key: %w", err)
		}
		if err := client.RegisterPubKey(ctx, index, pubKey); err != nil {
			return fmt.Errorf("failed to register public key: %w", err)
		}

		config, err = client.ConfigAfterPeerCollected(ctx)
		if err != nil {
			return fmt.Errorf("failed to collect peer configs: %w", err)
		}
		table = config.StakeTable

		if err := client.Ready(ctx); err != nil {
			return fmt.Errorf("failed to synchronize start: %w", err)
		}
	} else {
		// Static local committee: every stake-table entry derived from the
		// shared seed.
		id = meridian.ID(viper.GetUint64("id"))
		for index := uint64(0); index < totalNodes; index++ {
			signer, err := signerForIndex(seed, index)
			if err != nil {
				return err
			}
			pubKey, err := crypto.MarshalPublicKey(signer.PublicKey())
			if err != nil {
				return fmt.Errorf("failed to marshal public key: %w", err)
			}
			table = append(table, coordinator.StakeEntry{NodeIndex: index, PubKey: pubKey, Stake: 1})
		}
	}

	signer, err := signerForIndex(seed, uint64(id))
	if err != nil {
		return err
	}

	members := make([]committee.Member, 0, len(table))
	for _, entry := range table {
		key, err := crypto.UnmarshalPublicKey(entry.PubKey)
		if err != nil {
			return fmt.Errorf("invalid public key for node %d: %w", entry.NodeIndex, err)
		}
		members = append(members, committee.Member{
			ID:    meridian.ID(entry.NodeIndex),
			Key:   key,
			Stake: entry.Stake,
		})
	}
	quorum, err := committee.New(members)
	if err != nil {
		return fmt.Errorf("invalid committee: %w", err)
	}

	dataDir := filepath.Join(viper.GetString("data-dir"), fmt.Sprintf("node%d", id))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := blockchain.Open(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := logging.NewWithLevel(fmt.Sprintf("replica%d", id), viper.GetString("log-level"))
	el := eventloop.New(128)
	state := consensus.NewState(meridian.InstanceState{ChainID: seed}, nil)
	consensus.New(consensus.Config{
		ID:       id,
		Signer:   signer,
		Quorum:   quorum,
		DA:       quorum,
		Verifier: crypto.NewCertVerifier(quorum, quorum),
		Timeout:  timeout,
		Storage:  store,
		Logger:   logger,
		AppEvents: func(event meridian.Event) {
			if decide, ok := event.E.(meridian.Decide); ok {
				logger.Infof("decided %d leaves at view %d", len(decide.LeafChain), event.View)
			}
		},
	}, state, el)

	logger.Infof("replica %d starting, committee size %d", id, totalNodes)
	el.AddEvent(meridian.ViewChange{View: 1})
	el.Run(ctx)
	return nil
}

// signerForIndex derives a node's key pair from the shared seed and its
// index, identically on every node.
func signerForIndex(seed, index uint64) (*crypto.Signer, error) {
	material := make([]byte, 32)
	binary.LittleEndian.PutUint64(material[:8], seed)
	binary.LittleEndian.PutUint64(material[8:16], index)
	signer, err := crypto.NewSignerFromSeed(material)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key for node %d: %w", index, err)
	}
	return signer, nil
}
