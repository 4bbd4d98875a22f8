package session_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/decloud-network/validator/session"
	"github.com/decloud-network/validator/types"
)

type balances map[string]types.Amount

func (b balances) GetBalance(_ context.Context, pubkey string) (types.Amount, error) {
	return b[pubkey], nil
}

func TestLoginFormats(t *testing.T) {
	t.Parallel()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	address := base58.Encode(pub)

	arr := make([]int, len(priv))
	for i, b := range priv {
		arr[i] = int(b)
	}
	jsonKey, err := json.Marshal(arr)
	require.NoError(t, err)

	for name, material := range map[string][]byte{
		"base58 keypair": []byte(base58.Encode(priv)),
		"base58 seed":    []byte(base58.Encode(priv.Seed())),
		"json array":     jsonKey,
	} {
		material := material
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s, err := session.Login(material)
			require.NoError(t, err)
			require.Equal(t, address, s.PublicKey())
		})
	}
}

func TestLoginRejectsBadKeys(t *testing.T) {
	t.Parallel()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	tampered := append([]byte{}, priv...)
	tampered[40] ^= 0xff

	for name, material := range map[string][]byte{
		"empty":        nil,
		"not base58":   []byte("0OIl"),
		"short":        []byte(base58.Encode([]byte{1, 2, 3})),
		"bad json":     []byte("[1,2,"),
		"wrong pubkey": []byte(base58.Encode(tampered)),
	} {
		_, err := session.Login(material)
		require.Error(t, err, name)
		require.Equal(t, types.KindAuthorization, types.KindOf(err), name)
	}
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(err)
	s, err := session.Login([]byte(base58.Encode(priv)))
	require.NoError(err)

	msg := []byte("claim round 42")
	sig, err := s.Sign(msg)
	require.NoError(err)
	require.NoError(session.Verify(s.PublicKey(), msg, sig))

	sig[0] ^= 0xff
	require.ErrorIs(session.Verify(s.PublicKey(), msg, sig), session.ErrSignatureInvalid)
}

func TestRefreshBalance(t *testing.T) {
	t.Parallel()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s, err := session.Login([]byte(base58.Encode(priv)))
	require.NoError(t, err)

	got, err := s.RefreshBalance(context.Background(), balances{s.PublicKey(): types.SOL(3)})
	require.NoError(t, err)
	require.Equal(t, types.SOL(3), got)
	require.Equal(t, types.SOL(3), s.Balance())
}

func TestLoginFromKeyfile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keyfile := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(keyfile, []byte(base58.Encode(priv)), 0o600))

	t.Setenv(session.KeyEnvVar, "")
	s, err := session.LoginFrom(keyfile)
	require.NoError(t, err)
	require.NotEmpty(t, s.PublicKey())

	_, err = session.LoginFrom("")
	require.ErrorIs(t, err, types.ErrMissingSigningKey)
	require.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestLoginFromEnv(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	t.Setenv(session.KeyEnvVar, base58.Encode(priv))

	s, err := session.LoginFrom("")
	require.NoError(t, err)
	require.Equal(t, base58.Encode(priv.Public().(ed25519.PublicKey)), s.PublicKey())
}
