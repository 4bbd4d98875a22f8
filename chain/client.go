// Package chain talks to the ledger that publishes training rounds.
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/decloud-network/validator/types"
)

//go:generate mockgen -package mocks -destination mocks/client.go . Client

// Client is the ledger access used by the validator.
type Client interface {
	// GetAllRounds returns a snapshot of every round known to the ledger.
	GetAllRounds(ctx context.Context) ([]types.Round, error)
	// GetRound returns the current state of one round or types.ErrRoundNotFound.
	GetRound(ctx context.Context, id uint64) (types.Round, error)
	// SubscribeRounds streams round updates until ctx is canceled. The
	// channel is closed when the subscription ends.
	SubscribeRounds(ctx context.Context) (<-chan types.Round, error)
	// SubmitInstruction signs and submits ins and waits for confirmation.
	SubmitInstruction(ctx context.Context, ins Instruction, signer Signer) (string, error)
	GetBalance(ctx context.Context, pubkey string) (types.Amount, error)
}

// Signer signs instructions on behalf of a wallet.
type Signer interface {
	PublicKey() string
	Sign(msg []byte) ([]byte, error)
}

type InstructionKind uint8

const (
	ClaimRound InstructionKind = iota + 1
	FinalizeRound
	ClaimReward
	AbortRound
)

func (k InstructionKind) String() string {
	switch k {
	case ClaimRound:
		return "claimRound"
	case FinalizeRound:
		return "finalizeRound"
	case ClaimReward:
		return "claimReward"
	case AbortRound:
		return "abortRound"
	default:
		return fmt.Sprintf("InstructionKind(%d)", uint8(k))
	}
}

func (k InstructionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *InstructionKind) UnmarshalText(text []byte) error {
	for _, kind := range []InstructionKind{ClaimRound, FinalizeRound, ClaimReward, AbortRound} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown instruction kind %q", text)
}

// Well known instruction parameters.
const (
	ParamReferrer = "referrer"
	ParamCreator  = "creator"
	ParamScore    = "score"
)

// Instruction is a ledger mutating request for a single round.
type Instruction struct {
	Kind    InstructionKind   `json:"kind"`
	RoundID uint64            `json:"round_id"`
	Params  map[string]string `json:"params,omitempty"`
}

// Message returns the canonical bytes that are signed for ins.
func (ins Instruction) Message() ([]byte, error) {
	return json.Marshal(ins)
}

// SignedInstruction is an instruction together with the signer's address and
// signature, as sent over the wire.
type SignedInstruction struct {
	Instruction
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"`
}

// Sign produces the wire form of ins.
func Sign(ins Instruction, signer Signer) (SignedInstruction, error) {
	msg, err := ins.Message()
	if err != nil {
		return SignedInstruction{}, fmt.Errorf("encoding instruction: %w", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return SignedInstruction{}, fmt.Errorf("signing instruction: %w", err)
	}
	return SignedInstruction{Instruction: ins, Signer: signer.PublicKey(), Signature: sig}, nil
}
