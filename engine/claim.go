package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
)

// ClaimOutcome is the result of a claim attempt. None of the outcomes is an
// error: rounds that could not be claimed are retried on a later cycle or
// left to other validators.
type ClaimOutcome uint8

const (
	Claimed ClaimOutcome = iota + 1
	LostRace
	AtCapacity
	DryRun
	NotEligible
	InProgress
	AlreadyOwned
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case LostRace:
		return "lost-race"
	case AtCapacity:
		return "at-capacity"
	case DryRun:
		return "dry-run"
	case NotEligible:
		return "ineligible"
	case InProgress:
		return "in-progress"
	case AlreadyOwned:
		return "already-owned"
	default:
		return "unknown"
	}
}

func (o ClaimOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Claim tries to become the validator of r. The round is re-fetched after the
// claim delay and re-evaluated before anything is submitted. Lost races and a
// full capacity are reported as outcomes, not errors.
func (e *Engine) Claim(ctx context.Context, r types.Round) (ClaimOutcome, error) {
	if outcome, ok := e.reserve(r.ID); !ok {
		claimsMetric.WithLabelValues(outcome.String()).Inc()
		return outcome, nil
	}
	defer e.release(r.ID)
	return e.claimReserved(ctx, r)
}

// reserve takes a capacity slot for round id.
func (e *Engine) reserve(id uint64) (ClaimOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.owned[id]; ok && !o.status().IsTerminal() {
		return AlreadyOwned, false
	}
	if _, ok := e.pending[id]; ok {
		return InProgress, false
	}
	if e.activeCount()+len(e.pending) >= e.cfg.MaxConcurrentRounds {
		return AtCapacity, false
	}
	e.pending[id] = struct{}{}
	return Claimed, true
}

func (e *Engine) release(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Engine) claimReserved(ctx context.Context, r types.Round) (ClaimOutcome, error) {
	ctx, logger := logging.Named(ctx, "claim",
		zap.String("attempt_id", uuid.NewString()),
		zap.Uint64("round", r.ID),
		zap.String("dataset", r.Dataset),
	)
	outcome, err := e.tryClaim(ctx, r)
	if err != nil {
		claimsMetric.WithLabelValues("error").Inc()
		return outcome, err
	}
	claimsMetric.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case Claimed:
		logger.Info("claimed round", zap.Stringer("reward", r.RewardAmount))
	case LostRace:
		logger.Info("round was claimed by another validator")
	default:
		logger.Debug("claim skipped", zap.Stringer("outcome", outcome))
	}
	return outcome, nil
}

func (e *Engine) tryClaim(ctx context.Context, r types.Round) (ClaimOutcome, error) {
	logger := logging.FromContext(ctx)
	me := e.signer.PublicKey()

	if e.cfg.ClaimDelay > 0 && !e.cfg.DryRun {
		timer := time.NewTimer(e.cfg.ClaimDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
	}

	current, err := e.client.GetRound(ctx, r.ID)
	if err != nil {
		return 0, err
	}
	switch {
	case current.Validator == me:
		e.observeOwned(ctx, current)
		return AlreadyOwned, nil
	case current.Claimed() || current.Status != types.StatusWaitingValidator:
		return LostRace, nil
	}
	if d := Evaluate(current, e.policy, e.datasets.IsDownloaded); !d.Eligible {
		logger.Debug("round no longer eligible", zap.String("reason", string(d.Reason)))
		return NotEligible, nil
	}

	if e.cfg.DryRun {
		logger.Info("dry run, not claiming round", zap.Stringer("reward", current.RewardAmount))
		return DryRun, nil
	}

	ins := chain.Instruction{Kind: chain.ClaimRound, RoundID: r.ID}
	if e.cfg.Referrer != "" {
		ins.Params = map[string]string{chain.ParamReferrer: e.cfg.Referrer}
	}
	tx, err := e.submit(ctx, ins)
	if errors.Is(err, types.ErrLostRace) {
		return LostRace, nil
	}
	if err != nil {
		// The instruction may have landed even though submission failed.
		confirmed, cerr := e.confirmClaim(ctx, r.ID)
		switch {
		case cerr != nil:
		case confirmed.Validator == me:
			e.recordClaim(ctx, confirmed)
			return Claimed, nil
		case confirmed.Claimed():
			logger.Debug("claim submission failed, round taken by another validator", zap.Error(err))
			return LostRace, nil
		}
		return 0, err
	}

	confirmed, err := e.confirmClaim(ctx, r.ID)
	if err != nil {
		return 0, err
	}
	if confirmed.Validator != me {
		return LostRace, nil
	}
	logger.Debug("claim confirmed", zap.String("tx", tx), zap.Stringer("status", confirmed.Status))
	e.recordClaim(ctx, confirmed)
	return Claimed, nil
}

func (e *Engine) confirmClaim(ctx context.Context, id uint64) (types.Round, error) {
	ctx, cancel := e.detached(ctx)
	defer cancel()
	return e.client.GetRound(ctx, id)
}

func (e *Engine) recordClaim(ctx context.Context, r types.Round) {
	e.mu.Lock()
	o := &ownedRound{
		ID:        r.ID,
		Status:    uint32(r.Status),
		Dataset:   r.Dataset,
		Reward:    uint64(r.RewardAmount),
		ClaimedAt: time.Now().Unix(),
	}
	e.owned[r.ID] = o
	saved := *o
	e.mu.Unlock()

	e.persist(ctx, saved)
	e.updateOwnedMetric()
}

// detached returns a context that survives shutdown of ctx, bounded by the
// submit timeout, so that submissions are never abandoned halfway.
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if e.cfg.SubmitTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) submit(ctx context.Context, ins chain.Instruction) (string, error) {
	ctx, cancel := e.detached(ctx)
	defer cancel()

	tx, err := e.client.SubmitInstruction(ctx, ins, e.signer)
	result := "ok"
	if err != nil {
		result = types.KindOf(err).String()
	}
	instructionsMetric.WithLabelValues(ins.Kind.String(), result).Inc()
	if err != nil {
		return "", err
	}
	logging.FromContext(ctx).Debug("instruction confirmed",
		zap.Stringer("kind", ins.Kind), zap.Uint64("round", ins.RoundID), zap.String("tx", tx))
	return tx, nil
}

func (e *Engine) persist(ctx context.Context, o ownedRound) {
	if err := e.db.Save(o); err != nil {
		logging.FromContext(ctx).Error("failed to persist owned round", zap.Uint64("round", o.ID), zap.Error(err))
	}
}

func (e *Engine) dropOwned(ctx context.Context, id uint64) {
	e.mu.Lock()
	delete(e.owned, id)
	e.mu.Unlock()
	if err := e.db.Delete(id); err != nil {
		logging.FromContext(ctx).Error("failed to delete owned round", zap.Uint64("round", id), zap.Error(err))
	}
	e.updateOwnedMetric()
}
