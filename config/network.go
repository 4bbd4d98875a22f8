package config

import (
	"fmt"
	"strings"
)

// On-chain addresses of the DECLOUD program.
const (
	ProgramID = "DCLDgP6xHuVmcKuGvAzKEkrbSYHApp9568JhVoXsF2Hh"
	Treasury  = "FzuCxi65QyFXAGbHcXB28RXqyBZSZ5KXLQxeofx1P9K2"
)

type Network string

const (
	Devnet  Network = "devnet"
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
)

type Endpoints struct {
	RPC string
	WS  string
}

var presets = map[Network]Endpoints{
	Devnet:  {RPC: "https://api.devnet.solana.com", WS: "wss://api.devnet.solana.com"},
	Testnet: {RPC: "https://api.testnet.solana.com", WS: "wss://api.testnet.solana.com"},
	Mainnet: {RPC: "https://api.mainnet-beta.solana.com", WS: "wss://api.mainnet-beta.solana.com"},
}

// ParseNetwork accepts the preset names, case-insensitively. "mainnet-beta"
// is an alias of mainnet.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if n == "mainnet-beta" {
		n = Mainnet
	}
	if _, ok := presets[n]; !ok {
		return "", fmt.Errorf("unknown network %q (expected devnet, testnet or mainnet)", s)
	}
	return n, nil
}

// Endpoints returns the preset endpoints of n, or devnet's for an unknown network.
func (n Network) Endpoints() Endpoints {
	if e, ok := presets[n]; ok {
		return e
	}
	return presets[Devnet]
}

// UnmarshalFlag implements flags.Unmarshaler.
func (n *Network) UnmarshalFlag(value string) error {
	parsed, err := ParseNetwork(value)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (n Network) MarshalFlag() (string, error) {
	return string(n), nil
}
