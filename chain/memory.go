package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/session"
	"github.com/decloud-network/validator/types"
)

// InMemory is a ledger kept in process memory. It enforces the same
// ownership rules as the on-chain program: the first claim wins, only the
// round's validator may finalize, abort or collect the reward.
// It backs tests and local simulation.
type InMemory struct {
	mu       sync.Mutex
	rounds   map[uint64]types.Round
	claims   map[uint64]int
	rewards  map[uint64]bool
	balances map[string]types.Amount
	subs     map[chan types.Round]struct{}
	history  []SignedInstruction

	confirmDelay time.Duration
	logger       *zap.Logger
}

var _ Client = (*InMemory)(nil)

type InMemoryOption func(*InMemory)

// WithConfirmDelay delays every submission to simulate confirmation time.
func WithConfirmDelay(d time.Duration) InMemoryOption {
	return func(m *InMemory) { m.confirmDelay = d }
}

func WithLogger(logger *zap.Logger) InMemoryOption {
	return func(m *InMemory) { m.logger = logger }
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		rounds:   make(map[uint64]types.Round),
		claims:   make(map[uint64]int),
		rewards:  make(map[uint64]bool),
		balances: make(map[string]types.Amount),
		subs:     make(map[chan types.Round]struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish adds or replaces a round and notifies subscribers.
func (m *InMemory) Publish(r types.Round) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(r)
}

// SetStatus moves a round to status, as the ledger would on external events.
func (m *InMemory) SetStatus(id uint64, status types.RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return types.ErrRoundNotFound
	}
	r.Status = status
	m.update(r)
	return nil
}

// SetSubmissions records trainer progress for a round.
func (m *InMemory) SetSubmissions(id uint64, trainers, submissions uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return types.ErrRoundNotFound
	}
	r.TrainersCount = trainers
	r.SubmissionsCount = submissions
	m.update(r)
	return nil
}

func (m *InMemory) SetBalance(pubkey string, amount types.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[pubkey] = amount
}

// Claims returns how many claim instructions succeeded for a round.
func (m *InMemory) Claims(id uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims[id]
}

// RewardClaimed reports whether the reward of a round was collected.
func (m *InMemory) RewardClaimed(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rewards[id]
}

// Submitted returns every accepted instruction in submission order.
func (m *InMemory) Submitted() []SignedInstruction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SignedInstruction(nil), m.history...)
}

func (m *InMemory) update(r types.Round) {
	m.rounds[r.ID] = r
	for ch := range m.subs {
		select {
		case ch <- r:
		default:
			m.logger.Warn("subscriber is slow, dropping round update", zap.Uint64("round", r.ID))
		}
	}
}

func (m *InMemory) GetAllRounds(ctx context.Context) ([]types.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rounds := make([]types.Round, 0, len(m.rounds))
	for _, r := range m.rounds {
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID < rounds[j].ID })
	return rounds, nil
}

func (m *InMemory) GetRound(ctx context.Context, id uint64) (types.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return types.Round{}, types.ErrRoundNotFound
	}
	return r, nil
}

func (m *InMemory) GetBalance(ctx context.Context, pubkey string) (types.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[pubkey], nil
}

func (m *InMemory) SubscribeRounds(ctx context.Context) (<-chan types.Round, error) {
	ch := make(chan types.Round, 256)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *InMemory) SubmitInstruction(ctx context.Context, ins Instruction, signer Signer) (string, error) {
	signed, err := Sign(ins, signer)
	if err != nil {
		return "", err
	}
	msg, err := ins.Message()
	if err != nil {
		return "", err
	}
	if err := session.Verify(signed.Signer, msg, signed.Signature); err != nil {
		return "", types.E(types.KindAuthorization, ins.Kind.String(), err)
	}

	if m.confirmDelay > 0 {
		select {
		case <-time.After(m.confirmDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.apply(signed); err != nil {
		return "", err
	}
	m.history = append(m.history, signed)
	return base58.Encode(signed.Signature), nil
}

func (m *InMemory) apply(ins SignedInstruction) error {
	r, ok := m.rounds[ins.RoundID]
	if !ok {
		return types.ErrRoundNotFound
	}
	op := ins.Kind.String()

	switch ins.Kind {
	case ClaimRound:
		if r.Status != types.StatusWaitingValidator || r.Validator != "" {
			return types.E(types.KindConflict, op, fmt.Errorf("%w: round %d is %s", types.ErrLostRace, r.ID, r.Status))
		}
		r.Validator = ins.Signer
		r.Status = types.StatusWaitingTrainers
		m.claims[r.ID]++
	case FinalizeRound:
		if r.Validator != ins.Signer {
			return types.ErrNotRoundValidator
		}
		if r.Status != types.StatusValidating {
			return types.E(types.KindConflict, op, fmt.Errorf("round %d is %s", r.ID, r.Status))
		}
		r.Status = types.StatusCompleted
	case ClaimReward:
		if r.Validator != ins.Signer {
			return types.ErrNotRoundValidator
		}
		if r.Status != types.StatusCompleted || m.rewards[r.ID] {
			return types.E(types.KindConflict, op, fmt.Errorf("reward of round %d is not claimable", r.ID))
		}
		m.rewards[r.ID] = true
		m.balances[ins.Signer] += r.RewardAmount
		return nil
	case AbortRound:
		if r.Validator != ins.Signer {
			return types.ErrNotRoundValidator
		}
		if !r.Status.IsAbortable() {
			return types.ErrRoundNotAbortable
		}
		r.Status = types.StatusCancelled
	default:
		return types.E(types.KindInvalid, op, errors.New("unsupported instruction"))
	}
	m.update(r)
	return nil
}
