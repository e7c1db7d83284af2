package metagraph

import (
	"hetu/internal/utils"
)

const DefaultEpochThresholdRatio = 0.9

// EpochInfo describes where a block sits inside the subnet's epoch cycle.
// An epoch is tempo+1 blocks long; the boundary falls on blocks where
// (block + netuid + 1) mod (tempo + 1) == 0.
type EpochInfo struct {
	Block            int
	Tempo            int
	IsEpochBlock     bool
	NextEpochBlock   int
	BlocksUntilEpoch int
	EpochLength      int
	ThresholdBlocks  int
}

// EpochAt computes epoch position for an arbitrary block.
func EpochAt(block, netuid, tempo int, thresholdRatio float64) EpochInfo {
	length := tempo + 1
	r := (block + netuid + 1) % length
	info := EpochInfo{
		Block:           block,
		Tempo:           tempo,
		IsEpochBlock:    r == 0,
		EpochLength:     length,
		ThresholdBlocks: int(float64(length) * thresholdRatio),
	}
	if info.IsEpochBlock {
		info.NextEpochBlock = block + length
	} else {
		info.NextEpochBlock = block + (length - r)
	}
	info.BlocksUntilEpoch = info.NextEpochBlock - block
	if info.IsEpochBlock {
		info.BlocksUntilEpoch = 0
	}
	return info
}

// EpochInfo computes epoch position at the snapshot's block.
func (m *Metagraph) EpochInfo(thresholdRatio float64) (EpochInfo, error) {
	s := m.snap.Load()
	if s.Block == 0 {
		return EpochInfo{}, utils.Wrap("metagraph has not synced")
	}
	// Tempo 0 is a valid one-block epoch; only a missing hyperparameter
	// means the subnet is unknown.
	tempo, ok := s.Hyperparams["tempo"]
	if !ok {
		return EpochInfo{}, utils.Wrap("subnet tempo unknown")
	}
	return EpochAt(s.Block, m.netuid, tempo, thresholdRatio), nil
}

// ShouldSubmitWeights reports whether the snapshot block is inside the
// end-of-epoch submission window.
func (m *Metagraph) ShouldSubmitWeights(thresholdRatio float64) (bool, EpochInfo, error) {
	ep, err := m.EpochInfo(thresholdRatio)
	if err != nil {
		return false, EpochInfo{}, err
	}
	return ep.BlocksUntilEpoch <= ep.ThresholdBlocks, ep, nil
}
