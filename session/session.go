// Package session holds the operator identity used to sign ledger instructions.
package session

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/decloud-network/validator/types"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidPubkeyLen = errors.New("pubkey has invalid length")
)

// BalanceFetcher is the part of the ledger client needed to refresh the balance.
type BalanceFetcher interface {
	GetBalance(ctx context.Context, pubkey string) (types.Amount, error)
}

// Session is the authenticated validator identity. The private key never
// leaves it; callers sign through Sign.
type Session struct {
	key    ed25519.PrivateKey
	pubkey string

	mu      sync.RWMutex
	balance types.Amount
}

// Login parses private key material and returns a session owning it.
// Accepted forms are a base58 encoded 64 byte keypair or 32 byte seed, and a
// JSON array of 64 bytes as written by wallet keygen tools.
func Login(material []byte) (*Session, error) {
	key, err := parseKey(material)
	if err != nil {
		return nil, types.E(types.KindAuthorization, "login", err)
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, types.E(types.KindAuthorization, "login", ErrInvalidPubkeyLen)
	}
	return &Session{
		key:    key,
		pubkey: base58.Encode(pub),
	}, nil
}

func parseKey(material []byte) (ed25519.PrivateKey, error) {
	material = bytes.TrimSpace(material)
	if len(material) == 0 {
		return nil, types.ErrMissingSigningKey
	}

	var raw []byte
	if material[0] == '[' {
		if err := json.Unmarshal(material, &raw); err != nil {
			return nil, fmt.Errorf("%w: keypair array: %v", types.ErrInvalidKey, err)
		}
	} else {
		decoded, err := base58.Decode(string(material))
		if err != nil {
			return nil, fmt.Errorf("%w: base58: %v", types.ErrInvalidKey, err)
		}
		raw = decoded
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(key[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("%w: public half does not match seed", types.ErrInvalidKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", types.ErrInvalidKey, len(raw))
	}
}

// PublicKey returns the base58 wallet address.
func (s *Session) PublicKey() string {
	return s.pubkey
}

func (s *Session) Sign(msg []byte) ([]byte, error) {
	sig, err := s.key.Sign(nil, msg, crypto.Hash(0))
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrSigningFailed, err)
	}
	return sig, nil
}

func (s *Session) Balance() types.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// RefreshBalance fetches the current balance of the session's wallet.
func (s *Session) RefreshBalance(ctx context.Context, client BalanceFetcher) (types.Amount, error) {
	balance, err := client.GetBalance(ctx, s.pubkey)
	if err != nil {
		return 0, fmt.Errorf("fetching balance: %w", err)
	}
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
	return balance, nil
}

// Verify checks a signature produced by a session with the given address.
func Verify(pubkey string, msg, sig []byte) error {
	pub, err := base58.Decode(pubkey)
	if err != nil {
		return fmt.Errorf("decoding pubkey: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidPubkeyLen
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
