// Package chain defines the boundary to the substrate network. Everything
// above it (metagraph, validator, cmd) talks to the Client interface; the
// substrate implementation lives in this package too but callers should not
// depend on it directly.
package chain

import (
	"hetu/internal/synapse"
)

// SubnetInfo is the per-subnet view needed for epoch arithmetic and
// liveness checks.
type SubnetInfo struct {
	Netuid      int
	IsActive    bool
	Hyperparams map[string]int
}

// Tempo returns the subnet tempo hyperparameter, zero when unknown.
func (s *SubnetInfo) Tempo() int {
	if s == nil || s.Hyperparams == nil {
		return 0
	}
	return s.Hyperparams["tempo"]
}

// NeuronInfo is one registered peer on a subnet. Axon is nil when the peer
// has never posted serving info.
type NeuronInfo struct {
	Hotkey      string
	UID         int
	IsValidator bool
	IsActive    bool
	Stake       uint64
	LastUpdate  int
	Axon        *synapse.TerminalInfo
}

type Client interface {
	GetCurrentBlock() (int, error)
	GetSubnetInfo(netuid int) (*SubnetInfo, error)
	GetSubnetNeurons(netuid int) ([]string, error)
	GetNeuronInfo(netuid int, hotkey string) (*NeuronInfo, error)
	IsNeuron(netuid int, hotkey string) (bool, error)
	IsMiner(netuid int, hotkey string) (bool, error)
	IsValidator(netuid int, hotkey string) (bool, error)
	SetWeights(netuid int, uids []uint16, weights []uint16) error
}
