// Package keeper provides scheduled upkeep for raffle instances: it
// periodically evaluates eligibility and triggers winner selection.
package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Raffle is the subset of the engine the keeper drives.
type Raffle interface {
	CheckEligibility(ctx context.Context) bool
	TriggerSelection(ctx context.Context) (string, error)
}

// Keeper runs the upkeep schedule.
type Keeper struct {
	cron   *cron.Cron
	raffle Raffle
	log    *logger.Logger
}

// New creates a keeper on the given cron schedule (e.g. "@every 15s").
func New(r Raffle, schedule string, log *logger.Logger) (*Keeper, error) {
	if log == nil {
		log = logger.NewDefault("keeper")
	}

	k := &Keeper{
		cron:   cron.New(),
		raffle: r,
		log:    log,
	}

	if _, err := k.cron.AddFunc(schedule, k.tick); err != nil {
		return nil, fmt.Errorf("invalid keeper schedule %q: %w", schedule, err)
	}
	return k, nil
}

// Start begins schedule evaluation.
func (k *Keeper) Start() {
	k.cron.Start()
	k.log.Info("keeper started")
}

// Stop halts the schedule and waits for a running tick to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.log.Info("keeper stopped")
}

// tick performs one upkeep evaluation. The engine re-checks eligibility
// inside TriggerSelection, so losing the race to another trigger is
// expected and only logged at debug.
func (k *Keeper) tick() {
	ctx := context.Background()

	if !k.raffle.CheckEligibility(ctx) {
		k.log.Debug("upkeep not needed")
		return
	}

	requestID, err := k.raffle.TriggerSelection(ctx)
	if err != nil {
		var notNeeded *raffle.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			k.log.WithField("players", notNeeded.Players).
				WithField("balance", notNeeded.Balance).
				Debug("upkeep raced, retrying next tick")
			return
		}
		k.log.WithError(err).Warn("upkeep trigger failed")
		return
	}

	k.log.WithField("request_id", requestID).Info("upkeep triggered selection")
}
