// Package metagraph maintains a local snapshot of one subnet's topology:
// current block, hyperparameters, and the registered peers split by role.
// Reads are lock-free against an atomically swapped snapshot; Sync replaces
// the whole snapshot in one shot so readers never see a half-built view.
package metagraph

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hetu/internal/chain"
	"hetu/internal/synapse"
	"hetu/internal/utils"
)

const DefaultMinSyncInterval = 30 * time.Second

// Snapshot is one consistent view of the subnet. All fields are immutable
// once stored.
type Snapshot struct {
	Block       int
	IsActive    bool
	Hyperparams map[string]int
	Miners      []*chain.NeuronInfo
	Validators  []*chain.NeuronInfo
	SyncedAt    time.Time
}

type Metagraph struct {
	netuid          int
	chain           chain.Client
	log             *zap.SugaredLogger
	minSyncInterval time.Duration

	// mu serializes syncs only. Readers go through snap.
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

func New(netuid int, c chain.Client, log *zap.SugaredLogger, minSyncInterval time.Duration) *Metagraph {
	if minSyncInterval <= 0 {
		minSyncInterval = DefaultMinSyncInterval
	}
	m := &Metagraph{
		netuid:          netuid,
		chain:           c,
		log:             log,
		minSyncInterval: minSyncInterval,
	}
	m.snap.Store(&Snapshot{Hyperparams: map[string]int{}})
	return m
}

// Sync refreshes the snapshot from chain. Unless force is set, calls inside
// minSyncInterval of the last successful sync are no-ops. Peers that fail to
// resolve are skipped, not fatal.
func (m *Metagraph) Sync(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && time.Since(m.snap.Load().SyncedAt) < m.minSyncInterval {
		return nil
	}

	block, err := m.chain.GetCurrentBlock()
	if err != nil {
		return utils.Wrap("failed getting current block", err)
	}
	info, err := m.chain.GetSubnetInfo(m.netuid)
	if err != nil {
		return utils.Wrap("failed getting subnet info", err)
	}
	hotkeys, err := m.chain.GetSubnetNeurons(m.netuid)
	if err != nil {
		return utils.Wrap("failed getting subnet neurons", err)
	}

	var miners, validators []*chain.NeuronInfo
	for _, hk := range hotkeys {
		n, err := m.chain.GetNeuronInfo(m.netuid, hk)
		if err != nil {
			m.log.Warnw("Skipping peer", "hotkey", hk, "error", err)
			continue
		}
		if n.IsValidator {
			validators = append(validators, n)
			continue
		}
		miners = append(miners, n)
	}

	m.snap.Store(&Snapshot{
		Block:       block,
		IsActive:    info.IsActive,
		Hyperparams: info.Hyperparams,
		Miners:      miners,
		Validators:  validators,
		SyncedAt:    time.Now(),
	})
	m.log.Infow("Synced metagraph",
		"netuid", m.netuid,
		"block", block,
		"miners", len(miners),
		"validators", len(validators),
	)
	return nil
}

// Snapshot returns the current consistent view.
func (m *Metagraph) Snapshot() *Snapshot {
	return m.snap.Load()
}

func (m *Metagraph) GetByHotkey(hotkey string) *chain.NeuronInfo {
	s := m.snap.Load()
	for _, n := range s.Miners {
		if n.Hotkey == hotkey {
			return n
		}
	}
	for _, n := range s.Validators {
		if n.Hotkey == hotkey {
			return n
		}
	}
	return nil
}

func (m *Metagraph) GetByUID(uid int) *chain.NeuronInfo {
	s := m.snap.Load()
	for _, n := range s.Miners {
		if n.UID == uid {
			return n
		}
	}
	for _, n := range s.Validators {
		if n.UID == uid {
			return n
		}
	}
	return nil
}

func (m *Metagraph) ActiveMiners() []*chain.NeuronInfo {
	var out []*chain.NeuronInfo
	for _, n := range m.snap.Load().Miners {
		if n.IsActive {
			out = append(out, n)
		}
	}
	return out
}

func (m *Metagraph) Validators() []*chain.NeuronInfo {
	return m.snap.Load().Validators
}

// MinerEndpoints returns terminal info for every active miner that has
// posted serving info.
func (m *Metagraph) MinerEndpoints() []*synapse.TerminalInfo {
	var out []*synapse.TerminalInfo
	for _, n := range m.snap.Load().Miners {
		if n.IsActive && n.Axon != nil {
			out = append(out, n.Axon)
		}
	}
	return out
}

func (m *Metagraph) Block() int     { return m.snap.Load().Block }
func (m *Metagraph) IsActive() bool { return m.snap.Load().IsActive }

func (m *Metagraph) Tempo() int {
	return m.snap.Load().Hyperparams["tempo"]
}
