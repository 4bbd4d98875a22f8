package engine

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/decloud-network/validator/chain"
	chainmocks "github.com/decloud-network/validator/chain/mocks"
	"github.com/decloud-network/validator/engine/mocks"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/session"
	"github.com/decloud-network/validator/types"
)

type downloaded map[string]bool

func (d downloaded) IsDownloaded(name string) bool { return d[name] }

func newSigner(t testing.TB) *session.Session {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := session.Login([]byte(base58.Encode(priv)))
	require.NoError(t, err)
	return s
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UseWebsocket = false
	cfg.PollInterval = time.Hour
	cfg.ResyncInterval = time.Hour
	cfg.SubmitTimeout = 5 * time.Second
	cfg.DrainTimeout = 5 * time.Second
	return cfg
}

func openEngine(t *testing.T, dir string, client chain.Client, signer chain.Signer, cfg Config, opts ...OptionFunc) *Engine {
	t.Helper()
	opts = append([]OptionFunc{WithConfig(cfg)}, opts...)
	e, err := New(testContext(t), dir, client, signer, downloaded{}, opts...)
	require.NoError(t, err)
	return e
}

func newEngine(t *testing.T, client chain.Client, cfg Config, opts ...OptionFunc) (*Engine, *session.Session) {
	t.Helper()
	signer := newSigner(t)
	e := openEngine(t, t.TempDir(), client, signer, cfg, opts...)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e, signer
}

func openRound(id uint64, reward types.Amount) types.Round {
	return types.Round{
		ID:           id,
		Status:       types.StatusWaitingValidator,
		Dataset:      "Cifar10",
		RewardAmount: reward,
		Creator:      "creator",
	}
}

// cycle runs one full discovery cycle and waits for the work it started.
func cycle(ctx context.Context, e *Engine) {
	e.cycle(ctx, "test")
	e.inflight.Wait()
}

func TestNewRequiresSigner(t *testing.T) {
	t.Parallel()
	_, err := New(testContext(t), t.TempDir(), chain.NewInMemory(), nil, downloaded{})
	require.ErrorIs(t, err, types.ErrMissingSigningKey)
	require.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxConcurrentRounds = 0
	_, err := New(testContext(t), t.TempDir(), chain.NewInMemory(), newSigner(t), downloaded{}, WithConfig(cfg))
	require.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestClaimEligibleRound(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(42, 5_000_000_000))

	cfg := testConfig()
	cfg.MinReward = 1_000_000_000
	e, signer := newEngine(t, ledger, cfg)

	r, err := ledger.GetRound(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, Eligible(), Evaluate(r, e.policy, e.datasets.IsDownloaded))

	outcome, err := e.Claim(ctx, r)
	require.NoError(t, err)
	require.Equal(t, Claimed, outcome)

	r, err = ledger.GetRound(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, types.StatusWaitingTrainers, r.Status)
	require.Equal(t, signer.PublicKey(), r.Validator)
	require.Equal(t, 1, ledger.Claims(42))
	require.Equal(t, 1, e.ActiveRounds())

	outcome, err = e.Claim(ctx, r)
	require.NoError(t, err)
	require.Equal(t, AlreadyOwned, outcome)
	require.Equal(t, 1, ledger.Claims(42))
}

func TestClaimForwardsReferrer(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(1)))

	cfg := testConfig()
	cfg.Referrer = "referrer-wallet"
	e, _ := newEngine(t, ledger, cfg)

	outcome, err := e.Claim(ctx, openRound(1, types.SOL(1)))
	require.NoError(t, err)
	require.Equal(t, Claimed, outcome)

	submitted := ledger.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, chain.ClaimRound, submitted[0].Kind)
	require.Equal(t, "referrer-wallet", submitted[0].Params[chain.ParamReferrer])
}

func TestSingleClaimAcrossEngines(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory(chain.WithConfirmDelay(5 * time.Millisecond))
	round := openRound(7, types.SOL(3))
	ledger.Publish(round)

	const validators = 6
	engines := make([]*Engine, validators)
	for i := range engines {
		engines[i], _ = newEngine(t, ledger, testConfig())
	}

	outcomes := make([]ClaimOutcome, validators)
	var g errgroup.Group
	for i, e := range engines {
		i, e := i, e
		g.Go(func() error {
			outcome, err := e.Claim(ctx, round)
			outcomes[i] = outcome
			return err
		})
	}
	require.NoError(t, g.Wait())

	counts := make(map[ClaimOutcome]int)
	for _, o := range outcomes {
		counts[o]++
	}
	require.Equal(t, 1, counts[Claimed])
	require.Equal(t, validators-1, counts[LostRace])
	require.Equal(t, 1, ledger.Claims(7))
}

func TestClaimLostRace(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	stale := openRound(3, types.SOL(1))
	claimed := stale
	claimed.Status = types.StatusWaitingTrainers
	claimed.Validator = "someone-else"
	ledger.Publish(claimed)

	e, _ := newEngine(t, ledger, testConfig())
	outcome, err := e.Claim(ctx, stale)
	require.NoError(t, err)
	require.Equal(t, LostRace, outcome)
	require.Empty(t, ledger.Submitted())
	require.Zero(t, e.ActiveRounds())
}

func TestClaimRejectedByLedgerIsLostRace(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	round := openRound(5, types.SOL(1))

	e, _ := newEngine(t, client, testConfig())

	gomock.InOrder(
		client.EXPECT().GetRound(gomock.Any(), uint64(5)).Return(round, nil),
		client.EXPECT().SubmitInstruction(gomock.Any(), gomock.Any(), gomock.Any()).Return("", types.ErrLostRace),
	)
	outcome, err := e.Claim(ctx, round)
	require.NoError(t, err)
	require.Equal(t, LostRace, outcome)
	require.Zero(t, e.ActiveRounds())
}

func TestClaimTransientFailure(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	round := openRound(5, types.SOL(1))
	e, _ := newEngine(t, client, testConfig())

	submitErr := types.E(types.KindTransient, "sendInstruction", errors.New("connection reset"))
	gomock.InOrder(
		client.EXPECT().GetRound(gomock.Any(), uint64(5)).Return(round, nil),
		client.EXPECT().SubmitInstruction(gomock.Any(), gomock.Any(), gomock.Any()).Return("", submitErr),
		client.EXPECT().GetRound(gomock.Any(), uint64(5)).Return(round, nil),
	)
	_, err := e.Claim(ctx, round)
	require.ErrorIs(t, err, submitErr)
	require.Equal(t, types.KindTransient, types.KindOf(err))

	// the reservation is released
	e.mu.Lock()
	require.Empty(t, e.pending)
	e.mu.Unlock()
}

func TestClaimSubmitFailureTakenByOtherIsLostRace(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	client := chainmocks.NewMockClient(ctrl)
	round := openRound(5, types.SOL(1))
	taken := round
	taken.Status = types.StatusWaitingTrainers
	taken.Validator = "someone-else"
	e, _ := newEngine(t, client, testConfig())

	submitErr := types.E(types.KindTransient, "sendInstruction", errors.New("connection reset"))
	gomock.InOrder(
		client.EXPECT().GetRound(gomock.Any(), uint64(5)).Return(round, nil),
		client.EXPECT().SubmitInstruction(gomock.Any(), gomock.Any(), gomock.Any()).Return("", submitErr),
		client.EXPECT().GetRound(gomock.Any(), uint64(5)).Return(taken, nil),
	)
	outcome, err := e.Claim(ctx, round)
	require.NoError(t, err)
	require.Equal(t, LostRace, outcome)
	require.Zero(t, e.ActiveRounds())
}

func TestClaimReEvaluatesCurrentRound(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	current := openRound(9, types.SOL(1))
	current.Dataset = "Imdb"
	ledger.Publish(current)

	cfg := testConfig()
	cfg.AllowedDatasets = []string{"Cifar10"}
	e, _ := newEngine(t, ledger, cfg)

	outcome, err := e.Claim(ctx, openRound(9, types.SOL(1)))
	require.NoError(t, err)
	require.Equal(t, NotEligible, outcome)
	require.Empty(t, ledger.Submitted())
}

func TestClaimDryRun(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(2)))
	ledger.Publish(openRound(2, types.SOL(3)))

	cfg := testConfig()
	cfg.DryRun = true
	e, _ := newEngine(t, ledger, cfg)

	outcome, err := e.Claim(ctx, openRound(1, types.SOL(2)))
	require.NoError(t, err)
	require.Equal(t, DryRun, outcome)

	cycle(ctx, e)
	require.Empty(t, ledger.Submitted())
	require.Zero(t, e.ActiveRounds())
}

func TestClaimDelayIsCancellable(t *testing.T) {
	t.Parallel()
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(1)))

	cfg := testConfig()
	cfg.ClaimDelay = time.Hour
	e, _ := newEngine(t, ledger, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := e.Claim(ctx, openRound(1, types.SOL(1)))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, ledger.Submitted())

	outcome, ok := e.reserve(1)
	require.True(t, ok, "reservation must be released, got %s", outcome)
}

func TestCapacityAndOrdering(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(1)))
	ledger.Publish(openRound(2, types.SOL(5)))
	ledger.Publish(openRound(3, types.SOL(5)))
	ledger.Publish(openRound(4, types.SOL(3)))

	cfg := testConfig()
	cfg.MaxConcurrentRounds = 2
	e, signer := newEngine(t, ledger, cfg)
	me := signer.PublicKey()

	validatorOf := func(id uint64) string {
		r, err := ledger.GetRound(ctx, id)
		require.NoError(t, err)
		return r.Validator
	}

	cycle(ctx, e)
	require.Equal(t, me, validatorOf(2))
	require.Equal(t, me, validatorOf(3))
	require.Empty(t, validatorOf(1))
	require.Empty(t, validatorOf(4))
	require.Equal(t, 2, e.ActiveRounds())

	outcome, err := e.Claim(ctx, openRound(4, types.SOL(3)))
	require.NoError(t, err)
	require.Equal(t, AtCapacity, outcome)

	// a finished round frees its slot and the deferred claim is picked up
	require.NoError(t, ledger.SetStatus(2, types.StatusCancelled))
	cycle(ctx, e)
	require.Equal(t, me, validatorOf(4))
	require.Empty(t, validatorOf(1))
	require.Equal(t, 2, e.ActiveRounds())
	for id := uint64(1); id <= 4; id++ {
		require.LessOrEqual(t, ledger.Claims(id), 1)
	}
}

func TestCapacityUnderConcurrentClaims(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory(chain.WithConfirmDelay(5 * time.Millisecond))
	const rounds = 10
	for id := uint64(1); id <= rounds; id++ {
		ledger.Publish(openRound(id, types.SOL(id)))
	}

	cfg := testConfig()
	cfg.MaxConcurrentRounds = 3
	e, signer := newEngine(t, ledger, cfg)

	var wg sync.WaitGroup
	for id := uint64(1); id <= rounds; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Claim(ctx, openRound(id, types.SOL(id)))
		}()
	}
	wg.Wait()

	all, err := ledger.GetAllRounds(ctx)
	require.NoError(t, err)
	owned := 0
	for _, r := range all {
		if r.Validator == signer.PublicKey() {
			owned++
		}
	}
	require.Equal(t, 3, owned)
	require.Equal(t, 3, e.ActiveRounds())
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ctrl := gomock.NewController(t)
	monitor := mocks.NewMockTrainingMonitor(ctrl)
	scorer := mocks.NewMockScorer(ctrl)

	ledger := chain.NewInMemory()
	ledger.Publish(openRound(42, types.SOL(5)))

	cfg := testConfig()
	cfg.AutoStart = true
	e, signer := newEngine(t, ledger, cfg, WithTrainingMonitor(monitor), WithScorer(scorer))

	cycle(ctx, e)
	require.Equal(t, 1, ledger.Claims(42))

	monitor.EXPECT().Start(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	require.NoError(t, ledger.SetSubmissions(42, 4, 0))
	require.NoError(t, ledger.SetStatus(42, types.StatusTraining))
	cycle(ctx, e)
	cycle(ctx, e)

	scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return("0.93", nil).Times(1)
	require.NoError(t, ledger.SetSubmissions(42, 4, 4))
	require.NoError(t, ledger.SetStatus(42, types.StatusValidating))
	cycle(ctx, e)

	r, err := ledger.GetRound(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, r.Status)
	require.True(t, ledger.RewardClaimed(42))
	balance, err := ledger.GetBalance(ctx, signer.PublicKey())
	require.NoError(t, err)
	require.Equal(t, types.SOL(5), balance)
	require.Zero(t, e.ActiveRounds())

	var kinds []chain.InstructionKind
	for _, ins := range ledger.Submitted() {
		kinds = append(kinds, ins.Kind)
		if ins.Kind == chain.FinalizeRound {
			require.Equal(t, "0.93", ins.Params[chain.ParamScore])
		}
	}
	require.Equal(t, []chain.InstructionKind{chain.ClaimRound, chain.FinalizeRound, chain.ClaimReward}, kinds)

	// finished rounds are not acted on again
	cycle(ctx, e)
	require.Len(t, ledger.Submitted(), 3)
}

func TestRewardClaimGatedByAutoClaim(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(2)))

	cfg := testConfig()
	e, _ := newEngine(t, ledger, cfg)
	outcome, err := e.Claim(ctx, openRound(1, types.SOL(2)))
	require.NoError(t, err)
	require.Equal(t, Claimed, outcome)

	e.cfg.AutoClaim = false
	require.NoError(t, ledger.SetStatus(1, types.StatusValidating))
	cycle(ctx, e)
	r, err := ledger.GetRound(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, r.Status)
	require.False(t, ledger.RewardClaimed(1))

	tx, err := e.ClaimReward(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, tx)
	require.True(t, ledger.RewardClaimed(1))
}

func TestAutoClaimDisabledSkipsClaims(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(2)))

	cfg := testConfig()
	cfg.AutoClaim = false
	e, _ := newEngine(t, ledger, cfg)
	cycle(ctx, e)
	require.Empty(t, ledger.Submitted())
}

func TestClaimRewardRequiresCompletedOwnedRound(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	r := openRound(1, types.SOL(2))
	r.Status = types.StatusCompleted
	r.Validator = "other"
	ledger.Publish(r)
	ledger.Publish(openRound(2, types.SOL(2)))

	e, _ := newEngine(t, ledger, testConfig())
	_, err := e.ClaimReward(ctx, 1)
	require.ErrorIs(t, err, types.ErrNotRoundValidator)

	_, err = e.Claim(ctx, openRound(2, types.SOL(2)))
	require.NoError(t, err)
	_, err = e.ClaimReward(ctx, 2)
	require.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestAbortRound(t *testing.T) {
	t.Parallel()

	t.Run("aborts owned round", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		ledger := chain.NewInMemory()
		ledger.Publish(openRound(42, types.SOL(5)))
		e, signer := newEngine(t, ledger, testConfig())

		_, err := e.Claim(ctx, openRound(42, types.SOL(5)))
		require.NoError(t, err)
		tx, err := e.AbortRound(ctx, 42, signer.PublicKey())
		require.NoError(t, err)
		require.NotEmpty(t, tx)

		r, err := ledger.GetRound(ctx, 42)
		require.NoError(t, err)
		require.Equal(t, types.StatusCancelled, r.Status)
		require.Zero(t, e.ActiveRounds())

		submitted := ledger.Submitted()
		require.Equal(t, chain.AbortRound, submitted[len(submitted)-1].Kind)
		require.Equal(t, "creator", submitted[len(submitted)-1].Params[chain.ParamCreator])
	})

	t.Run("no-op on cancelled round", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		ledger := chain.NewInMemory()
		e, signer := newEngine(t, ledger, testConfig())
		r := openRound(42, types.SOL(5))
		r.Status = types.StatusCancelled
		r.Validator = signer.PublicKey()
		ledger.Publish(r)

		tx, err := e.AbortRound(ctx, 42, signer.PublicKey())
		require.NoError(t, err)
		require.Empty(t, tx)
		require.Empty(t, ledger.Submitted())
	})

	t.Run("caller is not the validator", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		ledger := chain.NewInMemory()
		r := openRound(42, types.SOL(5))
		r.Status = types.StatusTraining
		r.Validator = "other-validator"
		ledger.Publish(r)
		e, signer := newEngine(t, ledger, testConfig())

		_, err := e.AbortRound(ctx, 42, signer.PublicKey())
		require.ErrorIs(t, err, types.ErrNotRoundValidator)
		require.Equal(t, types.KindAuthorization, types.KindOf(err))

		after, err := ledger.GetRound(ctx, 42)
		require.NoError(t, err)
		require.Equal(t, r, after)
		require.Empty(t, ledger.Submitted())
	})

	t.Run("caller key is not ours", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		ledger := chain.NewInMemory()
		r := openRound(42, types.SOL(5))
		r.Status = types.StatusTraining
		r.Validator = "other-validator"
		ledger.Publish(r)
		e, _ := newEngine(t, ledger, testConfig())

		_, err := e.AbortRound(ctx, 42, "other-validator")
		require.Equal(t, types.KindAuthorization, types.KindOf(err))
	})

	t.Run("round not abortable", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		ctrl := gomock.NewController(t)
		client := chainmocks.NewMockClient(ctrl)
		e, signer := newEngine(t, client, testConfig())

		r := openRound(42, types.SOL(5))
		r.Validator = signer.PublicKey()
		client.EXPECT().GetRound(gomock.Any(), uint64(42)).Return(r, nil)

		_, err := e.AbortRound(ctx, 42, signer.PublicKey())
		require.ErrorIs(t, err, types.ErrRoundNotAbortable)
		require.Equal(t, types.KindConflict, types.KindOf(err))
	})

	t.Run("unknown round", func(t *testing.T) {
		t.Parallel()
		ctx := testContext(t)
		e, signer := newEngine(t, chain.NewInMemory(), testConfig())
		_, err := e.AbortRound(ctx, 1, signer.PublicKey())
		require.ErrorIs(t, err, types.ErrRoundNotFound)
	})
}

func TestOwnedRoundsSurviveRestart(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	dir := t.TempDir()
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(1)))
	ledger.Publish(openRound(2, types.SOL(1)))
	signer := newSigner(t)

	cfg := testConfig()
	cfg.MaxConcurrentRounds = 2
	e := openEngine(t, dir, ledger, signer, cfg)
	cycle(ctx, e)
	require.Equal(t, 2, e.ActiveRounds())
	require.NoError(t, e.Close())

	e = openEngine(t, dir, ledger, signer, cfg)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	require.Equal(t, 2, e.ActiveRounds())

	ledger.Publish(openRound(3, types.SOL(9)))
	require.NoError(t, ledger.SetStatus(1, types.StatusExpired))
	cycle(ctx, e)

	r, err := ledger.GetRound(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, signer.PublicKey(), r.Validator)
	require.Equal(t, 2, e.ActiveRounds())
	require.Equal(t, []uint64{2, 3}, e.ownedIDs())
}

type noSubscription struct {
	*chain.InMemory
}

func (noSubscription) SubscribeRounds(context.Context) (<-chan types.Round, error) {
	return nil, types.E(types.KindConfiguration, "subscribe", chain.ErrNoWebsocket)
}

type blockingClient struct {
	*chain.InMemory
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingClient() *blockingClient {
	return &blockingClient{
		InMemory: chain.NewInMemory(),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (c *blockingClient) SubmitInstruction(ctx context.Context, ins chain.Instruction, signer chain.Signer) (string, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return c.InMemory.SubmitInstruction(ctx, ins, signer)
}

func TestRunPush(t *testing.T) {
	t.Parallel()
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, types.SOL(1)))

	cfg := testConfig()
	cfg.UseWebsocket = true
	e, _ := newEngine(t, ledger, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	// the startup cycle runs after subscribing
	require.Eventually(t, func() bool { return ledger.Claims(1) == 1 }, 5*time.Second, 10*time.Millisecond)

	ledger.Publish(openRound(2, types.SOL(1)))
	require.Eventually(t, func() bool { return ledger.Claims(2) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
}

func TestRunFallsBackToPolling(t *testing.T) {
	t.Parallel()
	ledger := chain.NewInMemory()

	cfg := testConfig()
	cfg.UseWebsocket = true
	cfg.PollInterval = 20 * time.Millisecond
	e, _ := newEngine(t, noSubscription{ledger}, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	ledger.Publish(openRound(1, types.SOL(1)))
	require.Eventually(t, func() bool { return ledger.Claims(1) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
}

// flakySubscription fails the first subscribe attempts with a transient
// error, or every attempt with err when set.
type flakySubscription struct {
	*chain.InMemory
	err        error
	failures   atomic.Int32
	attempts   atomic.Int32
	subscribed atomic.Int32
}

func (c *flakySubscription) SubscribeRounds(ctx context.Context) (<-chan types.Round, error) {
	c.attempts.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	if c.failures.Add(-1) >= 0 {
		return nil, types.E(types.KindTransient, "subscribe", errors.New("connection refused"))
	}
	ch, err := c.InMemory.SubscribeRounds(ctx)
	if err == nil {
		c.subscribed.Add(1)
	}
	return ch, err
}

func TestRunRetriesSubscription(t *testing.T) {
	t.Parallel()
	client := &flakySubscription{InMemory: chain.NewInMemory()}
	client.failures.Store(2)

	cfg := testConfig()
	cfg.UseWebsocket = true
	cfg.PollInterval = 20 * time.Millisecond
	e, _ := newEngine(t, client, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	require.Eventually(t, func() bool { return client.subscribed.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), client.attempts.Load())

	client.Publish(openRound(1, types.SOL(1)))
	require.Eventually(t, func() bool { return client.Claims(1) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), client.subscribed.Load())
}

func TestRunDoesNotRetryMisconfiguredSubscription(t *testing.T) {
	t.Parallel()
	client := &flakySubscription{
		InMemory: chain.NewInMemory(),
		err:      types.E(types.KindConfiguration, "subscribe", chain.ErrNoWebsocket),
	}

	cfg := testConfig()
	cfg.UseWebsocket = true
	cfg.PollInterval = 10 * time.Millisecond
	e, _ := newEngine(t, client, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	client.Publish(openRound(1, types.SOL(1)))
	require.Eventually(t, func() bool { return client.Claims(1) == 1 }, 5*time.Second, 10*time.Millisecond)
	client.Publish(openRound(2, types.SOL(1)))
	require.Eventually(t, func() bool { return client.Claims(2) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), client.attempts.Load())
}

// countingClient counts full round snapshots.
type countingClient struct {
	*chain.InMemory
	snapshots atomic.Int32
}

func (c *countingClient) GetAllRounds(ctx context.Context) ([]types.Round, error) {
	defer c.snapshots.Add(1)
	return c.InMemory.GetAllRounds(ctx)
}

func TestRunResyncsOnTrigger(t *testing.T) {
	t.Parallel()
	client := &countingClient{InMemory: chain.NewInMemory()}
	resync := make(chan struct{})
	e, _ := newEngine(t, client, testConfig(), WithResyncTrigger(resync))

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	require.Eventually(t, func() bool { return client.snapshots.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	client.Publish(openRound(1, types.SOL(1)))
	require.Zero(t, client.Claims(1))

	resync <- struct{}{}
	require.Eventually(t, func() bool { return client.Claims(1) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(2), client.snapshots.Load())

	cancel()
	require.NoError(t, g.Wait())
}

func TestRunDrainsInFlightClaims(t *testing.T) {
	t.Parallel()
	client := newBlockingClient()
	client.Publish(openRound(1, types.SOL(1)))
	e, signer := newEngine(t, client, testConfig())

	ctx, cancel := context.WithCancel(testContext(t))
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	<-client.started
	cancel()
	close(client.release)
	require.NoError(t, g.Wait())

	r, err := client.GetRound(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, signer.PublicKey(), r.Validator)
	require.Equal(t, 1, e.ActiveRounds())
}

func TestRunDrainTimeout(t *testing.T) {
	t.Parallel()
	client := newBlockingClient()
	client.Publish(openRound(1, types.SOL(1)))
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	e, _ := newEngine(t, client, cfg)

	ctx, cancel := context.WithCancel(testContext(t))
	var g errgroup.Group
	g.Go(func() error { return e.Run(ctx) })

	<-client.started
	cancel()
	require.ErrorIs(t, g.Wait(), ErrDrainTimeout)

	close(client.release)
	e.inflight.Wait()
	require.Equal(t, 1, client.Claims(1))
}

func TestQueries(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	signer := newSigner(t)

	rounds := []types.Round{
		{ID: 1, Status: types.StatusWaitingValidator, Dataset: "Mnist"},
		{ID: 2, Status: types.StatusWaitingValidator, Dataset: "Cifar10"},
		{ID: 3, Status: types.StatusWaitingValidator, Dataset: "Imdb"},
		{ID: 4, Status: types.StatusWaitingValidator, Dataset: "Imdb"},
		{ID: 5, Status: types.StatusTraining, Dataset: "Svhn", Validator: signer.PublicKey()},
		{ID: 6, Status: types.StatusCompleted, Dataset: "Iris", Validator: "other"},
		{ID: 7, Status: types.StatusExpired, Dataset: "Wine"},
	}
	for _, r := range rounds {
		ledger.Publish(r)
	}

	e, err := New(ctx, t.TempDir(), ledger, signer, downloaded{"Mnist": true}, WithConfig(testConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	missing, err := e.GetMissingDatasets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Cifar10", "Imdb"}, missing)

	views, err := e.GetAllRounds(ctx)
	require.NoError(t, err)
	require.Len(t, views, len(rounds))
	require.Equal(t, uint64(7), views[0].ID)
	require.Equal(t, uint64(1), views[6].ID)
	require.True(t, views[6].DatasetDownloaded)
	require.False(t, views[5].DatasetDownloaded)
	require.True(t, views[2].Owned)
	require.False(t, views[1].Owned)

	require.Equal(t, Summary{Waiting: 4, Active: 1, Completed: 1, Total: 7}, Summarize(views))
}

func TestClaimOutcomeString(t *testing.T) {
	t.Parallel()
	for outcome, want := range map[ClaimOutcome]string{
		Claimed:      "claimed",
		LostRace:     "lost-race",
		AtCapacity:   "at-capacity",
		DryRun:       "dry-run",
		NotEligible:  "ineligible",
		InProgress:   "in-progress",
		AlreadyOwned: "already-owned",
	} {
		require.Equal(t, want, outcome.String())
	}
}

func TestInMemoryDatabase(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	ledger := chain.NewInMemory()
	ledger.Publish(openRound(1, 1))

	e := openEngine(t, "", ledger, newSigner(t), testConfig())
	t.Cleanup(func() { require.NoError(t, e.Close()) })

	cycle(ctx, e)
	require.Equal(t, 1, e.ActiveRounds())
	require.Equal(t, 1, ledger.Claims(1))
}
