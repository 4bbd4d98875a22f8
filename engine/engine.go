// Package engine runs the validator's round lifecycle: it discovers rounds,
// claims the ones matching the operator policy and drives claimed rounds to
// completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
)

//go:generate mockgen -package mocks -destination mocks/collaborators.go . DatasetChecker,Scorer,TrainingMonitor

// DatasetChecker reports whether a dataset is available locally.
type DatasetChecker interface {
	IsDownloaded(name string) bool
}

// Scorer evaluates the submissions of a round in Validating status and
// returns the result to publish with the finalize instruction.
type Scorer interface {
	Score(ctx context.Context, round types.Round) (string, error)
}

// TrainingMonitor is started once for every claimed round that begins training.
type TrainingMonitor interface {
	Start(ctx context.Context, round types.Round) error
}

var ErrDrainTimeout = errors.New("in-flight operations did not finish before the drain timeout")

type nopScorer struct{}

func (nopScorer) Score(context.Context, types.Round) (string, error) { return "", nil }

type nopMonitor struct{}

func (nopMonitor) Start(context.Context, types.Round) error { return nil }

type OptionFunc func(*newEngineOptions)

type newEngineOptions struct {
	cfg     Config
	scorer  Scorer
	monitor TrainingMonitor
	resync  <-chan struct{}
}

func WithConfig(cfg Config) OptionFunc {
	return func(opts *newEngineOptions) {
		opts.cfg = cfg
	}
}

func WithScorer(s Scorer) OptionFunc {
	return func(opts *newEngineOptions) {
		opts.scorer = s
	}
}

func WithTrainingMonitor(m TrainingMonitor) OptionFunc {
	return func(opts *newEngineOptions) {
		opts.monitor = m
	}
}

// WithResyncTrigger runs a full discovery cycle whenever ch receives, for
// example after the ledger subscription reconnected.
func WithResyncTrigger(ch <-chan struct{}) OptionFunc {
	return func(opts *newEngineOptions) {
		opts.resync = ch
	}
}

// Engine coordinates claims and lifecycle advances for one validator.
type Engine struct {
	cfg      Config
	policy   Policy
	client   chain.Client
	signer   chain.Signer
	datasets DatasetChecker
	scorer   Scorer
	monitor  TrainingMonitor
	resync   <-chan struct{}
	db       *database

	// ineligible rounds are logged once per reason
	seen *lru.Cache

	mu sync.Mutex
	// owned holds claimed rounds until they are finished and their reward,
	// if any, is collected.
	owned map[uint64]*ownedRound
	// pending holds claims that reserved capacity but are not confirmed yet.
	pending map[uint64]struct{}
	// busy serializes actions per round.
	busy     map[uint64]struct{}
	inflight sync.WaitGroup
}

// New creates an engine acting for signer. Owned rounds are persisted in
// dbdir, an empty dbdir keeps them in memory.
func New(
	ctx context.Context,
	dbdir string,
	client chain.Client,
	signer chain.Signer,
	datasets DatasetChecker,
	opts ...OptionFunc,
) (*Engine, error) {
	options := newEngineOptions{
		cfg:     DefaultConfig(),
		scorer:  nopScorer{},
		monitor: nopMonitor{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if signer == nil {
		return nil, types.E(types.KindConfiguration, "engine", types.ErrMissingSigningKey)
	}
	if options.cfg.MaxConcurrentRounds <= 0 {
		return nil, types.E(types.KindConfiguration, "engine", errors.New("max concurrent rounds must be positive"))
	}
	if options.cfg.PollInterval <= 0 {
		return nil, types.E(types.KindConfiguration, "engine", errors.New("poll interval must be positive"))
	}
	if options.cfg.ResyncInterval <= 0 {
		options.cfg.ResyncInterval = options.cfg.PollInterval
	}

	seen, err := lru.New(4096)
	if err != nil {
		return nil, err
	}
	db, err := newDatabase(dbdir)
	if err != nil {
		return nil, fmt.Errorf("opening engine database: %w", err)
	}

	e := &Engine{
		cfg:      options.cfg,
		policy:   NewPolicy(options.cfg),
		client:   client,
		signer:   signer,
		datasets: datasets,
		scorer:   options.scorer,
		monitor:  options.monitor,
		resync:   options.resync,
		db:       db,
		seen:     seen,
		owned:    make(map[uint64]*ownedRound),
		pending:  make(map[uint64]struct{}),
		busy:     make(map[uint64]struct{}),
	}

	saved, err := db.All()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading owned rounds: %w", err)
	}
	for i := range saved {
		o := saved[i]
		e.owned[o.ID] = &o
	}
	e.updateOwnedMetric()
	if len(saved) > 0 {
		logging.FromContext(ctx).Info("restored owned rounds", zap.Int("count", len(saved)))
	}
	return e, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) Config() Config {
	return e.cfg
}

// PublicKey returns the validator address the engine acts for.
func (e *Engine) PublicKey() string {
	return e.signer.PublicKey()
}

// Run discovers rounds until ctx is canceled. Rounds arrive either from a
// subscription, with a periodic full resync, or from polling. While polling
// the subscription is retried on every tick. In-flight operations are
// awaited for up to the drain timeout before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, logger := logging.Named(ctx, "engine")
	logger.Info("starting round engine", zap.Object("config", e.cfg), zap.String("validator", e.signer.PublicKey()))

	updates, retry := e.subscribe(ctx, logger)
	interval := e.cfg.PollInterval
	if updates != nil {
		interval = e.cfg.ResyncInterval
	}

	e.cycle(ctx, "startup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.drain(logger)
		case <-ticker.C:
			if updates == nil && retry {
				if updates, retry = e.subscribe(ctx, logger); updates != nil {
					logger.Info("round subscription restored")
					ticker.Reset(e.cfg.ResyncInterval)
					e.cycle(ctx, "resubscribe")
					continue
				}
			}
			e.cycle(ctx, "poll")
		case <-e.resync:
			e.cycle(ctx, "reconnect")
		case r, ok := <-updates:
			if !ok {
				updates = nil
				if ctx.Err() == nil {
					logger.Warn("round subscription ended, polling instead")
					ticker.Reset(e.cfg.PollInterval)
				}
				continue
			}
			cyclesMetric.WithLabelValues("push", "ok").Inc()
			e.process(ctx, []types.Round{r}, false)
		}
	}
}

// subscribe opens the round subscription if enabled. retry reports whether
// a failed subscription is worth attempting again.
func (e *Engine) subscribe(ctx context.Context, logger *zap.Logger) (updates <-chan types.Round, retry bool) {
	if !e.cfg.UseWebsocket {
		return nil, false
	}
	sub, err := e.client.SubscribeRounds(ctx)
	if err != nil {
		logger.Warn("round subscription unavailable, polling instead", zap.Error(err))
		return nil, types.KindOf(err) != types.KindConfiguration
	}
	return sub, true
}

func (e *Engine) drain(logger *zap.Logger) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("round engine stopped")
		return nil
	case <-time.After(e.cfg.DrainTimeout):
		logger.Error("round engine stopped with operations in flight", zap.Duration("drain_timeout", e.cfg.DrainTimeout))
		return ErrDrainTimeout
	}
}

// cycle fetches a full snapshot of rounds and processes it.
func (e *Engine) cycle(ctx context.Context, source string) {
	ctx, logger := logging.Named(ctx, "cycle", zap.String("cycle_id", uuid.NewString()), zap.String("source", source))
	rounds, err := e.client.GetAllRounds(ctx)
	if err != nil {
		cyclesMetric.WithLabelValues(source, "error").Inc()
		logger.Warn("skipping cycle, failed to fetch rounds", zap.Error(err))
		return
	}
	cyclesMetric.WithLabelValues(source, "ok").Inc()
	logger.Debug("fetched rounds", zap.Int("count", len(rounds)))
	e.process(ctx, rounds, true)
}

// process routes every round either to the lifecycle of owned rounds or to
// the claim pipeline. With a full snapshot, owned rounds missing from it are
// re-fetched individually.
func (e *Engine) process(ctx context.Context, rounds []types.Round, full bool) {
	logger := logging.FromContext(ctx)
	me := e.signer.PublicKey()

	var candidates []types.Round
	present := make(map[uint64]struct{}, len(rounds))
	for _, r := range rounds {
		present[r.ID] = struct{}{}
		if !r.SubmissionsConsistent() {
			if key := fmt.Sprintf("inconsistent/%d/%d/%d", r.ID, r.TrainersCount, r.SubmissionsCount); !e.seen.Contains(key) {
				e.seen.Add(key, struct{}{})
				logger.Warn("round reports more submissions than trainers",
					zap.Uint64("round", r.ID),
					zap.Uint32("trainers", r.TrainersCount),
					zap.Uint32("submissions", r.SubmissionsCount),
				)
			}
		}
		switch {
		case r.Validator == me:
			e.observeOwned(ctx, r)
		case r.Status == types.StatusWaitingValidator && !r.Claimed():
			candidates = append(candidates, r)
		case r.Validator != "":
			e.forgetLost(ctx, r)
		}
	}

	if full {
		for _, id := range e.ownedIDs() {
			if _, ok := present[id]; !ok {
				e.refreshOwned(ctx, id)
			}
		}
	}

	e.claimCandidates(ctx, candidates)
}

// forgetLost drops an owned record for a round that turned out to belong to
// another validator.
func (e *Engine) forgetLost(ctx context.Context, r types.Round) {
	e.mu.Lock()
	_, ok := e.owned[r.ID]
	e.mu.Unlock()
	if !ok {
		return
	}
	logging.FromContext(ctx).Warn("owned round has a different validator, dropping it",
		zap.Uint64("round", r.ID), zap.String("validator", r.Validator))
	e.dropOwned(ctx, r.ID)
}

func (e *Engine) refreshOwned(ctx context.Context, id uint64) {
	r, err := e.client.GetRound(ctx, id)
	switch {
	case errors.Is(err, types.ErrRoundNotFound):
		logging.FromContext(ctx).Info("owned round no longer exists", zap.Uint64("round", id))
		e.dropOwned(ctx, id)
	case err != nil:
		logging.FromContext(ctx).Warn("failed to refresh owned round", zap.Uint64("round", id), zap.Error(err))
	case r.Validator == e.signer.PublicKey():
		e.observeOwned(ctx, r)
	default:
		e.forgetLost(ctx, r)
	}
}

// claimCandidates claims eligible rounds in order of descending reward, then
// ascending id, until capacity is exhausted.
func (e *Engine) claimCandidates(ctx context.Context, candidates []types.Round) {
	logger := logging.FromContext(ctx)
	var eligible []types.Round
	for _, r := range candidates {
		d := Evaluate(r, e.policy, e.datasets.IsDownloaded)
		if !d.Eligible {
			if key := fmt.Sprintf("ineligible/%d/%s", r.ID, d.Reason); !e.seen.Contains(key) {
				e.seen.Add(key, struct{}{})
				logger.Debug("round not eligible", zap.Uint64("round", r.ID), zap.String("reason", string(d.Reason)))
			}
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return
	}
	sortCandidates(eligible)

	if !e.cfg.AutoClaim {
		for _, r := range eligible {
			if key := fmt.Sprintf("manual/%d", r.ID); !e.seen.Contains(key) {
				e.seen.Add(key, struct{}{})
				logger.Info("eligible round found, auto claim disabled", zap.Uint64("round", r.ID), zap.Stringer("reward", r.RewardAmount))
			}
		}
		return
	}

	for _, r := range eligible {
		r := r
		outcome, ok := e.reserve(r.ID)
		if !ok {
			claimsMetric.WithLabelValues(outcome.String()).Inc()
			if outcome == AtCapacity {
				logger.Debug("at capacity, deferring claim", zap.Uint64("round", r.ID))
			}
			continue
		}
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			defer e.release(r.ID)
			if _, err := e.claimReserved(ctx, r); err != nil {
				logger.Warn("claim failed", zap.Uint64("round", r.ID), zap.Error(err))
			}
		}()
	}
}

func sortCandidates(rounds []types.Round) {
	sort.SliceStable(rounds, func(i, j int) bool {
		if rounds[i].RewardAmount != rounds[j].RewardAmount {
			return rounds[i].RewardAmount > rounds[j].RewardAmount
		}
		return rounds[i].ID < rounds[j].ID
	})
}

func (e *Engine) ownedIDs() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint64, 0, len(e.owned))
	for id := range e.owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// activeCount returns the number of owned rounds that are not terminal.
// Must be called with e.mu held.
func (e *Engine) activeCount() int {
	n := 0
	for _, o := range e.owned {
		if !o.status().IsTerminal() {
			n++
		}
	}
	return n
}

func (e *Engine) updateOwnedMetric() {
	e.mu.Lock()
	n := e.activeCount()
	e.mu.Unlock()
	ownedRoundsMetric.Set(float64(n))
}

// ActiveRounds returns the number of owned rounds that are not terminal.
func (e *Engine) ActiveRounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCount()
}
