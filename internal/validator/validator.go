// Package validator runs the evaluation loop: sync the metagraph, probe
// active miners with math challenges, accumulate scores, and submit
// normalized weights inside each epoch's submission window.
package validator

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"

	"hetu/internal/chain"
	"hetu/internal/metagraph"
	"hetu/internal/phloem"
	"hetu/internal/protocol"
	"hetu/internal/setup"
	"hetu/internal/synapse"
)

const (
	DefaultPollInterval        = 12 * time.Second
	DefaultEpochThresholdRatio = metagraph.DefaultEpochThresholdRatio
)

type Config struct {
	Netuid              int
	PollInterval        time.Duration
	EpochThresholdRatio float64
}

type Validator struct {
	cfg    Config
	log    *zap.SugaredLogger
	chain  chain.Client
	mg     *metagraph.Metagraph
	client *phloem.Phloem
	mongo  *mongo.Client

	scores                map[int]float64
	lastSubmittedEpochEnd int
}

func New(cfg Config, c chain.Client, mg *metagraph.Metagraph, client *phloem.Phloem, mongoClient *mongo.Client, log *zap.SugaredLogger) *Validator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.EpochThresholdRatio <= 0 {
		cfg.EpochThresholdRatio = DefaultEpochThresholdRatio
	}
	return &Validator{
		cfg:    cfg,
		log:    log,
		chain:  c,
		mg:     mg,
		client: client,
		mongo:  mongoClient,
		scores: map[int]float64{},
	}
}

// Run blocks until ctx is cancelled.
func (v *Validator) Run(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			v.log.Info("Shutting down...")
			return
		case <-ticker.C:
			v.tick(ctx)
		}
	}
}

func (v *Validator) tick(ctx context.Context) {
	if err := v.mg.Sync(false); err != nil {
		v.log.Errorw("Failed syncing metagraph", "error", err)
		return
	}
	v.probeMiners(ctx)
	v.maybeSubmitWeights()
}

// probeMiners sends every active miner a sum challenge and adjusts its
// score by the outcome. Wrong or missing answers decay the score instead
// of zeroing it so a single flaky round does not erase a good miner.
func (v *Validator) probeMiners(ctx context.Context) {
	miners := v.mg.ActiveMiners()
	var targets []*chain.NeuronInfo
	for _, m := range miners {
		if m.Axon != nil {
			targets = append(targets, m)
		}
	}
	if len(targets) == 0 {
		return
	}

	x := float64(rand.IntN(1000))
	y := float64(rand.IntN(1000))
	probe := protocol.NewMathSum(x, y)

	endpoints := make([]*synapse.TerminalInfo, len(targets))
	for i, t := range targets {
		endpoints[i] = t.Axon
	}

	responses := v.client.Query(ctx, endpoints, probe, phloem.QueryOptions{Parallel: true})
	for i, res := range responses {
		uid := targets[i].UID
		sum, ok := res.(*protocol.MathSumSynapse)
		if ok && sum.IsSuccess() && sum.SumResult == x+y {
			v.scores[uid] += 1
			continue
		}
		v.scores[uid] *= 0.8
	}
}

func (v *Validator) maybeSubmitWeights() {
	submit, ep, err := v.mg.ShouldSubmitWeights(v.cfg.EpochThresholdRatio)
	if err != nil {
		v.log.Warnw("Cannot evaluate epoch position", "error", err)
		return
	}
	if !submit {
		return
	}
	if v.lastSubmittedEpochEnd == ep.NextEpochBlock {
		return
	}

	uids, weights := NormalizeWeights(v.scores)
	if len(uids) == 0 {
		v.log.Info("No miner scores to submit")
		return
	}
	v.log.Infow("Setting weights", "block", ep.Block, "uids", uids, "weights", weights)
	if err := v.chain.SetWeights(v.cfg.Netuid, uids, weights); err != nil {
		v.log.Errorw("Failed setting weights", "error", err)
		return
	}
	v.lastSubmittedEpochEnd = ep.NextEpochBlock
	v.recordWeights(ep.Block, uids, weights)
	v.scores = map[int]float64{}
}

// NormalizeWeights converts raw scores into u16 weights summing at most
// U16MAX, uids sorted ascending. Non-positive scores are dropped.
func NormalizeWeights(scores map[int]float64) ([]uint16, []uint16) {
	total := 0.0
	for _, s := range scores {
		if s > 0 {
			total += s
		}
	}
	if total == 0 {
		return nil, nil
	}
	uids := make([]int, 0, len(scores))
	for uid, s := range scores {
		if s > 0 {
			uids = append(uids, uid)
		}
	}
	sort.Ints(uids)

	var outUids, outWeights []uint16
	for _, uid := range uids {
		fw := math.Floor(float64(setup.U16MAX) * scores[uid] / total)
		if fw == 0 {
			continue
		}
		outUids = append(outUids, uint16(uid))
		outWeights = append(outWeights, uint16(fw))
	}
	return outUids, outWeights
}

type WeightRecord struct {
	Block     int      `bson:"block"`
	UIDs      []uint16 `bson:"uids"`
	Weights   []uint16 `bson:"weights"`
	Timestamp int64    `bson:"timestamp"`
}

func (v *Validator) recordWeights(block int, uids, weights []uint16) {
	if v.mongo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := WeightRecord{
		Block:     block,
		UIDs:      uids,
		Weights:   weights,
		Timestamp: time.Now().Unix(),
	}
	coll := v.mongo.Database("hetu").Collection("weight_history")
	if _, err := coll.InsertOne(ctx, rec); err != nil {
		v.log.Warnw("Failed recording weights to mongo", "error", err)
		return
	}
	v.log.Infow("Stored weight record", "block", block)
}
