package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
)

var ErrRoundBusy = types.E(types.KindConflict, "engine", errors.New("another operation is in progress for this round"))

type action uint8

const (
	actionNone action = iota
	actionStartTraining
	actionFinalize
	actionClaimReward
	actionDrop
)

func (e *Engine) nextAction(o ownedRound) action {
	switch o.status() {
	case types.StatusTraining:
		if e.cfg.AutoStart && !o.Started {
			return actionStartTraining
		}
	case types.StatusValidating:
		if e.cfg.AutoValidate && !o.Finalized {
			return actionFinalize
		}
	case types.StatusCompleted:
		if e.cfg.AutoClaim && !o.RewardClaimed {
			return actionClaimReward
		}
		return actionDrop
	case types.StatusCancelled, types.StatusExpired:
		return actionDrop
	}
	return actionNone
}

// observeOwned records the latest status of a round validated by us and
// schedules the lifecycle step it calls for.
func (e *Engine) observeOwned(ctx context.Context, r types.Round) {
	o, changed, ok := e.track(r)
	if !ok {
		return
	}
	if changed {
		e.persist(ctx, o)
		e.updateOwnedMetric()
		logging.FromContext(ctx).Info("owned round status",
			zap.Uint64("round", r.ID), zap.Stringer("status", r.Status))
	}

	switch e.nextAction(o) {
	case actionNone:
	case actionDrop:
		e.dropOwned(ctx, r.ID)
	default:
		e.spawnAdvance(ctx, r.ID)
	}
}

// track updates the owned record of r, adopting it if unknown. Terminal
// rounds that are not tracked are ignored.
func (e *Engine) track(r types.Round) (ownedRound, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.owned[r.ID]
	if !ok {
		if r.Status.IsTerminal() {
			return ownedRound{}, false, false
		}
		o = &ownedRound{
			ID:        r.ID,
			Dataset:   r.Dataset,
			Reward:    uint64(r.RewardAmount),
			ClaimedAt: time.Now().Unix(),
		}
		e.owned[r.ID] = o
	}
	changed := !ok || o.Status != uint32(r.Status)
	o.Status = uint32(r.Status)
	return *o, changed, true
}

func (e *Engine) update(ctx context.Context, id uint64, fn func(*ownedRound)) {
	e.mu.Lock()
	o, ok := e.owned[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	fn(o)
	saved := *o
	e.mu.Unlock()
	e.persist(ctx, saved)
}

func (e *Engine) acquire(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.busy[id]; ok {
		return false
	}
	e.busy[id] = struct{}{}
	return true
}

func (e *Engine) releaseBusy(id uint64) {
	e.mu.Lock()
	delete(e.busy, id)
	e.mu.Unlock()
}

func (e *Engine) spawnAdvance(ctx context.Context, id uint64) {
	if !e.acquire(id) {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer e.releaseBusy(id)
		e.advance(ctx, id)
	}()
}

// advance re-fetches an owned round and performs the step its current
// status calls for.
func (e *Engine) advance(ctx context.Context, id uint64) {
	ctx, logger := logging.Named(ctx, "lifecycle", zap.Uint64("round", id))

	r, err := e.client.GetRound(ctx, id)
	switch {
	case errors.Is(err, types.ErrRoundNotFound):
		logger.Info("owned round no longer exists")
		e.dropOwned(ctx, id)
		return
	case err != nil:
		logger.Warn("failed to fetch owned round", zap.Error(err))
		return
	case r.Validator != e.signer.PublicKey():
		e.forgetLost(ctx, r)
		return
	}

	o, _, ok := e.track(r)
	if !ok {
		return
	}
	switch e.nextAction(o) {
	case actionStartTraining:
		if err := e.monitor.Start(ctx, r); err != nil {
			logger.Error("failed to start training monitor", zap.Error(err))
			return
		}
		e.update(ctx, id, func(o *ownedRound) { o.Started = true })
		logger.Info("training monitor started")
	case actionFinalize:
		if err := e.finalize(ctx, r); err != nil {
			logger.Error("failed to finalize round", zap.Error(err))
		}
	case actionClaimReward:
		_, err := e.claimReward(ctx, r)
		if types.KindOf(err) == types.KindConflict {
			logger.Warn("reward is not claimable, forgetting round", zap.Error(err))
			e.dropOwned(ctx, id)
		} else if err != nil {
			logger.Error("failed to claim reward", zap.Error(err))
		}
	case actionDrop:
		e.dropOwned(ctx, id)
	}
}

func (e *Engine) finalize(ctx context.Context, r types.Round) error {
	logger := logging.FromContext(ctx)
	score, err := e.scorer.Score(ctx, r)
	if err != nil {
		return fmt.Errorf("scoring submissions: %w", err)
	}
	if e.cfg.DryRun {
		logger.Info("dry run, not finalizing round", zap.String("score", score))
		return nil
	}

	ins := chain.Instruction{Kind: chain.FinalizeRound, RoundID: r.ID}
	if score != "" {
		ins.Params = map[string]string{chain.ParamScore: score}
	}
	tx, err := e.submit(ctx, ins)
	if err != nil {
		return err
	}
	e.update(ctx, r.ID, func(o *ownedRound) { o.Finalized = true })
	logger.Info("finalized round", zap.String("tx", tx))

	confirmed, err := e.confirmClaim(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("confirming finalize: %w", err)
	}
	o, _, ok := e.track(confirmed)
	if !ok {
		return nil
	}
	switch e.nextAction(o) {
	case actionClaimReward:
		_, err = e.claimReward(ctx, confirmed)
		return err
	case actionDrop:
		e.dropOwned(ctx, r.ID)
	}
	return nil
}

func (e *Engine) claimReward(ctx context.Context, r types.Round) (string, error) {
	logger := logging.FromContext(ctx)
	if e.cfg.DryRun {
		logger.Info("dry run, not claiming reward", zap.Stringer("reward", r.RewardAmount))
		return "", nil
	}
	tx, err := e.submit(ctx, chain.Instruction{Kind: chain.ClaimReward, RoundID: r.ID})
	if err != nil {
		return "", err
	}
	logger.Info("claimed reward", zap.Stringer("reward", r.RewardAmount), zap.String("tx", tx))
	e.dropOwned(ctx, r.ID)
	return tx, nil
}

// ClaimReward collects the reward of a completed round validated by us.
func (e *Engine) ClaimReward(ctx context.Context, id uint64) (string, error) {
	const op = "claim reward"
	if !e.acquire(id) {
		return "", ErrRoundBusy
	}
	defer e.releaseBusy(id)

	ctx, _ = logging.Named(ctx, "lifecycle", zap.Uint64("round", id))
	r, err := e.client.GetRound(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Validator != e.signer.PublicKey() {
		return "", types.E(types.KindAuthorization, op, types.ErrNotRoundValidator)
	}
	if r.Status != types.StatusCompleted {
		return "", types.E(types.KindConflict, op, fmt.Errorf("round %d is %s", id, r.Status))
	}
	return e.claimReward(ctx, r)
}

// AbortRound cancels a round validated by callerKey, refunding its creator.
// Aborting a round that already reached a terminal status succeeds without
// submitting anything.
func (e *Engine) AbortRound(ctx context.Context, id uint64, callerKey string) (string, error) {
	const op = "abort round"
	ctx, logger := logging.Named(ctx, "lifecycle", zap.Uint64("round", id))

	r, err := e.client.GetRound(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Status.IsTerminal() {
		logger.Info("round already finished, nothing to abort", zap.Stringer("status", r.Status))
		return "", nil
	}
	if r.Validator == "" || r.Validator != callerKey || callerKey != e.signer.PublicKey() {
		return "", types.E(types.KindAuthorization, op, types.ErrNotRoundValidator)
	}
	if !r.Status.IsAbortable() {
		return "", types.E(types.KindConflict, op, fmt.Errorf("%w: round %d is %s", types.ErrRoundNotAbortable, id, r.Status))
	}

	if !e.acquire(id) {
		return "", ErrRoundBusy
	}
	defer e.releaseBusy(id)

	if e.cfg.DryRun {
		logger.Info("dry run, not aborting round")
		return "", nil
	}
	ins := chain.Instruction{
		Kind:    chain.AbortRound,
		RoundID: id,
		Params:  map[string]string{chain.ParamCreator: r.Creator},
	}
	tx, err := e.submit(ctx, ins)
	if err != nil {
		return "", err
	}
	logger.Info("aborted round", zap.String("tx", tx))
	e.dropOwned(ctx, id)
	return tx, nil
}
