package chain

import (
	"net"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/subtrahend-labs/gobt/client"
	"github.com/subtrahend-labs/gobt/extrinsics"
	"github.com/subtrahend-labs/gobt/runtime"
	"github.com/subtrahend-labs/gobt/sigtools"
	"go.uber.org/zap"

	"hetu/internal/synapse"
	"hetu/internal/utils"
)

// Substrate implements Client over a live subtensor connection. Neuron
// lookups are served from a per-subnet cache filled by GetSubnetNeurons;
// a miss triggers one refresh.
type Substrate struct {
	client  *client.Client
	hotkey  signature.KeyringPair
	version types.U64
	log     *zap.SugaredLogger

	mu      sync.Mutex
	neurons map[int]map[string]*NeuronInfo

	refresh func(netuid int) error
}

func NewSubstrate(c *client.Client, hotkey signature.KeyringPair, version types.U64, log *zap.SugaredLogger) *Substrate {
	s := &Substrate{
		client:  c,
		hotkey:  hotkey,
		version: version,
		log:     log,
		neurons: map[int]map[string]*NeuronInfo{},
	}
	s.refresh = s.refreshNeurons
	return s
}

func (s *Substrate) GetCurrentBlock() (int, error) {
	header, err := s.client.Api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return 0, utils.Wrap("failed getting latest header", err)
	}
	return int(header.Number), nil
}

func (s *Substrate) GetSubnetInfo(netuid int) (*SubnetInfo, error) {
	enc, err := codec.Encode(types.NewU16(uint16(netuid)))
	if err != nil {
		return nil, utils.Wrap("failed encoding netuid", err)
	}

	var tempo types.U16
	key, err := types.CreateStorageKey(s.client.Meta, "SubtensorModule", "Tempo", enc)
	if err != nil {
		return nil, utils.Wrap("failed creating tempo storage key", err)
	}
	ok, err := s.client.Api.RPC.State.GetStorageLatest(key, &tempo)
	if err != nil {
		return nil, utils.Wrap("failed reading tempo", err)
	}
	if !ok {
		return nil, utils.Wrap("no tempo found for subnet")
	}

	var active types.Bool
	key, err = types.CreateStorageKey(s.client.Meta, "SubtensorModule", "NetworksAdded", enc)
	if err != nil {
		return nil, utils.Wrap("failed creating network storage key", err)
	}
	ok, err = s.client.Api.RPC.State.GetStorageLatest(key, &active)
	if err != nil {
		return nil, utils.Wrap("failed reading network flag", err)
	}

	return &SubnetInfo{
		Netuid:      netuid,
		IsActive:    ok && bool(active),
		Hyperparams: map[string]int{"tempo": int(tempo)},
	}, nil
}

func (s *Substrate) refreshNeurons(netuid int) error {
	blockHash, err := s.client.Api.RPC.Chain.GetBlockHashLatest()
	if err != nil {
		return utils.Wrap("failed getting latest block hash", err)
	}
	neurons, err := runtime.GetNeurons(s.client, uint16(netuid), &blockHash)
	if err != nil {
		return utils.Wrap("failed getting neurons", err)
	}
	fresh := make(map[string]*NeuronInfo, len(neurons))
	for i := range neurons {
		info := fromRuntimeNeuron(&neurons[i])
		fresh[info.Hotkey] = info
	}
	s.mu.Lock()
	s.neurons[netuid] = fresh
	s.mu.Unlock()
	s.log.Debugw("Refreshed neurons", "netuid", netuid, "count", len(fresh))
	return nil
}

func fromRuntimeNeuron(n *runtime.NeuronInfo) *NeuronInfo {
	var stake uint64
	for _, st := range n.Stake {
		stake += uint64(st.Amount.Int64())
	}
	info := &NeuronInfo{
		Hotkey:      utils.AccountIDToSS58(n.Hotkey),
		UID:         int(n.UID.Int64()),
		IsValidator: n.ValidatorPermit == types.NewBool(true),
		IsActive:    n.Active == types.NewBool(true),
		Stake:       stake,
		LastUpdate:  int(n.LastUpdate.Int64()),
	}
	if n.AxonInfo.IP.String() != "0" {
		var ip net.IP = n.AxonInfo.IP.Bytes()
		info.Axon = &synapse.TerminalInfo{
			IP:   ip.String(),
			Port: int(n.AxonInfo.Port),
		}
	}
	return info
}

func (s *Substrate) GetSubnetNeurons(netuid int) ([]string, error) {
	if err := s.refresh(netuid); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hotkeys := make([]string, 0, len(s.neurons[netuid]))
	for hk := range s.neurons[netuid] {
		hotkeys = append(hotkeys, hk)
	}
	return hotkeys, nil
}

// lookup serves the cache, refreshing once on a miss. A nil record with a
// nil error means the hotkey is not registered; refresh failures come back
// as errors so callers can tell an outage from a missing peer.
func (s *Substrate) lookup(netuid int, hotkey string) (*NeuronInfo, error) {
	s.mu.Lock()
	info, ok := s.neurons[netuid][hotkey]
	s.mu.Unlock()
	if ok {
		return info, nil
	}
	if err := s.refresh(netuid); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neurons[netuid][hotkey], nil
}

func (s *Substrate) GetNeuronInfo(netuid int, hotkey string) (*NeuronInfo, error) {
	info, err := s.lookup(netuid, hotkey)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, utils.Wrap("hotkey not registered on subnet")
	}
	return info, nil
}

func (s *Substrate) IsNeuron(netuid int, hotkey string) (bool, error) {
	info, err := s.lookup(netuid, hotkey)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (s *Substrate) IsMiner(netuid int, hotkey string) (bool, error) {
	info, err := s.lookup(netuid, hotkey)
	if err != nil {
		return false, err
	}
	return info != nil && !info.IsValidator, nil
}

func (s *Substrate) IsValidator(netuid int, hotkey string) (bool, error) {
	info, err := s.lookup(netuid, hotkey)
	if err != nil {
		return false, err
	}
	return info != nil && info.IsValidator, nil
}

func (s *Substrate) SetWeights(netuid int, uids []uint16, weights []uint16) error {
	us := make([]types.U16, len(uids))
	for i, u := range uids {
		us[i] = types.U16(u)
	}
	ws := make([]types.U16, len(weights))
	for i, w := range weights {
		ws[i] = types.U16(w)
	}
	ext, err := extrinsics.SetWeightsExt(s.client, types.U16(uint16(netuid)), us, ws, s.version)
	if err != nil {
		return utils.Wrap("failed creating setweights ext", err)
	}
	ops, err := sigtools.CreateSigningOptions(s.client, s.hotkey, nil)
	if err != nil {
		return utils.Wrap("failed creating signing opts", err)
	}
	err = ext.Sign(s.hotkey, s.client.Meta, ops...)
	if err != nil {
		return utils.Wrap("failed signing setweights ext", err)
	}
	hash, err := s.client.Api.RPC.Author.SubmitExtrinsic(*ext)
	if err != nil {
		return utils.Wrap("failed submitting extrinsic", err)
	}
	s.log.Infow("Set weights on chain successfully", "hash", hash.Hex())
	return nil
}
