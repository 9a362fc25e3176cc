package fairness

import (
	"context"
	"math/rand"

	"github.com/parcelbroker/parcelbroker/capacity"
	"github.com/parcelbroker/parcelbroker/config"
	"go.uber.org/zap"
)

type ISelector interface {
	Select(ctx context.Context, candidates []capacity.Candidate) (*capacity.Candidate, error)
}

type selector struct {
	cfg   *config.ParcelBroker
	index Index
	log   *zap.SugaredLogger
}

func NewSelector(cfg *config.ParcelBroker, index Index, log *zap.SugaredLogger) ISelector {
	return &selector{cfg: cfg, index: index, log: log}
}

// Select picks the next deliverer from a capacity-filtered, load-ordered
// candidate list. Round robin rotates the shared index; least_loaded takes
// the already-sorted head; random picks uniformly. Returns nil on an empty
// list.
func (s *selector) Select(ctx context.Context, candidates []capacity.Candidate) (*capacity.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	switch s.cfg.Matching.Strategy {
	case config.StrategyLeastLoaded:
		return &candidates[0], nil
	case config.StrategyRandom:
		return &candidates[rand.Intn(len(candidates))], nil
	default:
		i, err := s.index.NextIndex(ctx, len(candidates))
		if err != nil {
			// A broken shared counter should not stop matching; fall
			// back to the least-loaded head for this selection.
			s.log.Warnf("fairness index unavailable, falling back to least loaded: %s", err)
			return &candidates[0], nil
		}
		return &candidates[i], nil
	}
}
