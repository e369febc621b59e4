// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"github.com/urfave/cli/v2"

	"github.com/hwdag/hwnode/common"
	"github.com/hwdag/hwnode/config"
	"github.com/hwdag/hwnode/consensus/equivocation"
	"github.com/hwdag/hwnode/consensus/executor"
	"github.com/hwdag/hwnode/consensus/finality"
	"github.com/hwdag/hwnode/consensus/forkchoice"
	"github.com/hwdag/hwnode/consensus/highway"
	"github.com/hwdag/hwnode/dag"
	"github.com/hwdag/hwnode/errs"
	"github.com/hwdag/hwnode/execengine"
	"github.com/hwdag/hwnode/log"
	"github.com/hwdag/hwnode/message"
	"github.com/hwdag/hwnode/params"
)

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	app := &cli.App{
		Name:  "hwnode",
		Usage: "a highway proof-of-stake consensus-core node",
		Flags: config.Flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("hwnode: fatal", "error", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}
	spec, err := config.LoadChainSpec(cfg.ChainSpecPath)
	if err != nil {
		return err
	}

	log.Info("hwnode starting", "validator", cfg.Validator.PublicKey.Hex(), "datadir", cfg.DataDirPath)

	if err := os.MkdirAll(cfg.DataDirPath, 0o755); err != nil {
		return fmt.Errorf("hwnode: create data dir: %w", err)
	}
	blockStore, err := dag.OpenPebbleStore(filepath.Join(cfg.DataDirPath, "blocks"))
	if err != nil {
		return fmt.Errorf("hwnode: open block store: %w", err)
	}
	eraStore, err := dag.OpenEraDB(filepath.Join(cfg.DataDirPath, "eras"))
	if err != nil {
		return fmt.Errorf("hwnode: open era store: %w", err)
	}
	defer eraStore.Close()

	genesisBonds, err := decodeGenesisBonds(spec.Genesis.Bonds)
	if err != nil {
		return err
	}

	view := dag.NewView(blockStore)
	equiv := equivocation.New(view, blockStore)
	bondedSet := finality.BondedSet{Validators: bondValidators(genesisBonds), Weights: bondWeights(genesisBonds)}
	fin := finality.New(view, blockStore, equiv, common.Hash{}, bondedSet, cfg.FaultToleranceThreshold)
	engine := execengine.NewInMemory(nil, genesisBonds)

	execCfg := executor.Config{
		ProtocolVersion: 1,
		ClockDrift:      time.Minute,
		LocalValidator:  cfg.Validator.PublicKey,
	}
	exec := executor.New(view, blockStore, equiv, fin, engine, nil, execCfg, onBan, onFatal)

	priv := ed25519.PrivateKey(cfg.Validator.PrivateKey)

	// The round scheduler measures every tick relative to genesisTime (tick
	// 0 in wall-clock terms, see consensus/highway.Scheduler.tickAt), so the
	// genesis era's own StartTick/EndTick must be genesis-relative too, not
	// absolute Unix-epoch milliseconds.
	genesisEraID := genesisKeyBlockHash(spec)
	genesisEra := &dag.Era{
		KeyBlockHash: genesisEraID,
		StartTick:    0,
		EndTick:      spec.Highway.EraDurationMillis,
		Bonds:        genesisBonds,
		LeaderSeed:   0,
	}
	if err := eraStore.PutEra(context.Background(), genesisEra); err != nil {
		return fmt.Errorf("hwnode: seed genesis era: %w", err)
	}

	if err := seedGenesisBlock(context.Background(), exec, engine, cfg.Validator.PublicKey, priv, genesisEraID, spec.Genesis.Timestamp, genesisBonds); err != nil {
		return fmt.Errorf("hwnode: seed genesis block: %w", err)
	}

	fc := forkchoice.New(view, blockStore)
	producer := highway.New(view, blockStore, eraStore, fc, engine, noopDeployPool{}, exec, cfg.Validator.PublicKey, priv, highway.Config{
		ProtocolVersion:         execCfg.ProtocolVersion,
		SecondaryParentsEnabled: true,
		MaxDeployBytes:          cfg.MaxBlockSizeBytes,
	})

	tree := highway.NewEraTree(eraStore, genesisEra)
	supervisor := highway.NewSupervisor(tree, producer, fc, spec.Highway, cfg.Highway, cfg.Validator.PublicKey, spec.Genesis.Timestamp)
	supervisor.Start()
	defer supervisor.Stop()

	log.Info("hwnode running", "eraDuration", spec.Highway.EraDuration(), "roundExponent", cfg.Highway.InitRoundExponent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("hwnode: received shutdown signal")
	return nil
}

// noopDeployPool is a placeholder DeployPool: deploy mempool intake is out
// of scope (spec §1 Non-goals), so this node never proposes deploys of its
// own, only empty blocks, until a real mempool is wired in.
type noopDeployPool struct{}

func (noopDeployPool) CandidateDeploys(ctx context.Context, maxBytes uint64) ([]*message.Deploy, error) {
	return nil, nil
}

func (noopDeployPool) Requeue(ctx context.Context, hash common.Hash) error { return nil }

func onBan(sender common.PublicKey, sub errs.ValidationSubKind) {
	log.Warn("hwnode: validator banned", "validator", sender.Hex(), "reason", sub)
}

func onFatal(err *errs.Error) {
	log.Crit("hwnode: fatal consensus error", "error", err)
}

func decodeGenesisBonds(raw map[string]uint64) ([]message.Bond, error) {
	bonds := make([]message.Bond, 0, len(raw))
	for hexKey, stake := range raw {
		key, err := decodeHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("hwnode: genesis bond %q: %w", hexKey, err)
		}
		bonds = append(bonds, message.Bond{Validator: common.PublicKey(key), Stake: stake})
	}
	return bonds, nil
}

func bondValidators(bonds []message.Bond) []common.PublicKey {
	out := make([]common.PublicKey, len(bonds))
	for i, b := range bonds {
		out[i] = b.Validator
	}
	return out
}

func bondWeights(bonds []message.Bond) []common.Stake {
	out := make([]common.Stake, len(bonds))
	for i, b := range bonds {
		out[i] = b.Stake
	}
	return out
}

// genesisKeyBlockHash derives the genesis era's identifier deterministically
// from the chain spec, so every node loading the same spec agrees on the
// era id without a genesis ceremony. It is independent of the genesis
// block's own hash (consensus/highway.Producer's EraID field is an opaque
// era identifier, not required to equal any particular message's hash).
func genesisKeyBlockHash(spec *params.ChainSpec) common.Hash {
	bonds := make([]string, 0, len(spec.Genesis.Bonds))
	for k := range spec.Genesis.Bonds {
		bonds = append(bonds, k)
	}
	sort.Strings(bonds)
	buf := []byte(fmt.Sprintf("genesis|%d", spec.Genesis.Timestamp.UnixMilli()))
	for _, k := range bonds {
		buf = append(buf, []byte(fmt.Sprintf("|%s:%d", k, spec.Genesis.Bonds[k]))...)
	}
	return message.ContentHash(buf)
}

// seedGenesisBlock signs and persists the era's genesis block through the
// same executor pipeline every other message runs, so LatestInEra can find
// it as the local validator's seq-0 message once production starts.
func seedGenesisBlock(ctx context.Context, exec *executor.Executor, engine execengine.Engine, pub common.PublicKey, priv ed25519.PrivateKey, eraID common.Hash, timestamp time.Time, bonds []message.Bond) error {
	root, _, err := engine.Commit(ctx, common.Hash{}, map[string][]byte{}, 1)
	if err != nil {
		return fmt.Errorf("commit genesis state: %w", err)
	}
	genesis := &message.Block{
		Header: message.Header{
			ValidatorID: pub,
			EraID:       eraID,
			Timestamp:   timestamp,
		},
		PostStateHash: root,
		Bonds:         bonds,
	}
	if _, err := message.Sign(genesis, priv); err != nil {
		return fmt.Errorf("sign genesis block: %w", err)
	}
	res, err := exec.AddMessage(ctx, genesis)
	if err != nil {
		return err
	}
	if res.Status != executor.StatusValid {
		return fmt.Errorf("genesis block rejected: %s", res.Status)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

