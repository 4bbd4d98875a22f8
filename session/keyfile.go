package session

import (
	"fmt"
	"os"
	"strings"

	"github.com/decloud-network/validator/types"
)

// KeyEnvVar names the environment variable holding the private key.
const KeyEnvVar = "DECLOUD_PRIVATE_KEY"

// LoadKey returns key material from the environment or, if unset, from keyfile.
func LoadKey(keyfile string) ([]byte, error) {
	if key := strings.TrimSpace(os.Getenv(KeyEnvVar)); key != "" {
		return []byte(key), nil
	}
	if keyfile == "" {
		return nil, types.E(types.KindConfiguration, "load key", types.ErrMissingSigningKey)
	}
	data, err := os.ReadFile(keyfile) //#nosec G304
	if err != nil {
		return nil, types.E(types.KindConfiguration, "load key", fmt.Errorf("reading keyfile: %w", err))
	}
	return data, nil
}

// LoginFrom combines LoadKey and Login.
func LoginFrom(keyfile string) (*Session, error) {
	material, err := LoadKey(keyfile)
	if err != nil {
		return nil, err
	}
	s, err := Login(material)
	if err != nil {
		return nil, types.E(types.KindConfiguration, "login", err)
	}
	return s, nil
}
