package server

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/decloud-network/validator/types"
	"github.com/decloud-network/validator/util"
)

const stateFilename = "state.bin"

// state binds a database directory to the validator identity that owns the
// rounds recorded in it.
type state struct {
	PublicKey string
	Network   string
}

func saveState(dbdir string, s *state) error {
	return util.Persist(filepath.Join(dbdir, stateFilename), s)
}

func loadState(dbdir, pubkey, network string) (*state, error) {
	s := &state{}
	err := util.Load(filepath.Join(dbdir, stateFilename), s)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &state{PublicKey: pubkey, Network: network}, nil
	case err != nil:
		return nil, err
	}
	if s.PublicKey != pubkey {
		return nil, types.E(types.KindConfiguration, "load state",
			fmt.Errorf("database in %s belongs to validator %s, logged in as %s", dbdir, s.PublicKey, pubkey))
	}
	if s.Network != network {
		return nil, types.E(types.KindConfiguration, "load state",
			fmt.Errorf("database in %s was created for network %q, configured %q", dbdir, s.Network, network))
	}
	return s, nil
}
