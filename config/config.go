// Package config loads, validates and persists the validator configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/engine"
	"github.com/decloud-network/validator/types"
)

const (
	defaultHomeDirname    = ".decloud-validator"
	defaultConfigFilename = "validator.conf"
	defaultDataDirname    = "datasets"
	defaultDbDirName      = "db"
	defaultLogDirname     = "logs"
	defaultRESTPort       = 8080
)

// Config defines the configuration options of the validator.
//
//nolint:lll
type Config struct {
	HomeDir    string `long:"homedir"    description:"The base directory that contains the validator's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"Path to configuration file"                                                             short:"c"`
	DbDir      string `long:"dbdir"      description:"The directory to store DBs within"`
	LogDir     string `long:"logdir"     description:"Directory to log output."`
	DebugLog   bool   `long:"debuglog"   description:"Enable debug logs"`
	JSONLog    bool   `long:"jsonlog"    description:"Whether to log in JSON format"`

	Network   Network `long:"network"    description:"Cluster to connect to: devnet, testnet or mainnet"`
	RPCURL    string  `long:"rpc-url"    description:"RPC endpoint URL, overrides the network preset"`
	WSURL     string  `long:"ws-url"     description:"Websocket endpoint URL, overrides the network preset"`
	BatchSize int     `long:"batch-size" description:"Number of rounds requested per page"`
	KeyFile   string  `long:"keyfile"    description:"Path to the keypair file, used when DECLOUD_PRIVATE_KEY is not set"`

	RawRESTListener string `long:"restlisten" description:"The interface/port to listen for REST connections" short:"w"`
	Metrics         bool   `long:"metrics"    description:"Expose prometheus metrics on the REST listener"`

	InstalledDatasets []string `long:"installed-dataset" description:"Dataset known to be installed, maintained by the validator"`

	Engine   engine.Config   `group:"Engine"`
	Datasets datasets.Config `group:"Datasets"`
}

func defaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, defaultHomeDirname)
	}
	return defaultHomeDirname
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	homeDir := defaultHomeDir()
	cfg := &Config{
		HomeDir:         homeDir,
		ConfigFile:      filepath.Join(homeDir, defaultConfigFilename),
		DbDir:           filepath.Join(homeDir, defaultDbDirName),
		LogDir:          filepath.Join(homeDir, defaultLogDirname),
		Network:         Mainnet,
		BatchSize:       chain.DefaultRPCClientOpts().BatchSize,
		RawRESTListener: fmt.Sprintf("localhost:%d", defaultRESTPort),
		Engine:          engine.DefaultConfig(),
		Datasets:        datasets.DefaultConfig(),
	}
	cfg.Datasets.DataDir = filepath.Join(homeDir, defaultDataDirname)
	return cfg
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file. A missing file leaves cfg untouched.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	// list options are appended to, so defaults only apply when the file
	// sets none
	gateways := cfg.Datasets.Gateways
	cfg.Datasets.Gateways = nil
	defer func() {
		if len(cfg.Datasets.Gateways) == 0 {
			cfg.Datasets.Gateways = gateways
		}
	}()

	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, types.E(types.KindConfiguration, "read config", fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err))
	}
	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided home directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.HomeDir != defaultCfg.HomeDir {
		if cfg.ConfigFile == defaultCfg.ConfigFile {
			cfg.ConfigFile = filepath.Join(cfg.HomeDir, defaultConfigFilename)
		}
		if cfg.Datasets.DataDir == defaultCfg.Datasets.DataDir {
			cfg.Datasets.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.HomeDir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.HomeDir, err)
	}

	cfg.HomeDir = cleanAndExpandPath(cfg.HomeDir)
	cfg.ConfigFile = cleanAndExpandPath(cfg.ConfigFile)
	cfg.Datasets.DataDir = cleanAndExpandPath(cfg.Datasets.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.KeyFile = cleanAndExpandPath(cfg.KeyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be checked while parsing.
func (c *Config) Validate() error {
	const op = "validate config"
	if _, err := ParseNetwork(string(c.Network)); err != nil && c.RPCURL == "" {
		return types.E(types.KindConfiguration, op, err)
	}
	if c.Engine.MaxConcurrentRounds <= 0 {
		return types.E(types.KindConfiguration, op, errors.New("max-concurrent-rounds must be positive"))
	}
	if c.Engine.PollInterval <= 0 {
		return types.E(types.KindConfiguration, op, errors.New("poll-interval must be positive"))
	}
	if c.Engine.MinReward > c.Engine.MaxReward {
		return types.E(types.KindConfiguration, op, fmt.Errorf("min-reward %s exceeds max-reward %s", c.Engine.MinReward, c.Engine.MaxReward))
	}
	if c.Datasets.Workers <= 0 {
		return types.E(types.KindConfiguration, op, errors.New("workers must be positive"))
	}
	if c.RawRESTListener != "" {
		if _, _, err := net.SplitHostPort(c.RawRESTListener); err != nil {
			return types.E(types.KindConfiguration, op, fmt.Errorf("invalid rest listener: %w", err))
		}
	}
	return nil
}

// Endpoints returns the RPC and websocket URLs to use, preferring explicit
// URLs over the network preset.
func (c *Config) Endpoints() Endpoints {
	e := c.Network.Endpoints()
	if c.RPCURL != "" {
		e.RPC = c.RPCURL
		if c.WSURL == "" {
			e.WS = ""
		}
	}
	if c.WSURL != "" {
		e.WS = c.WSURL
	}
	return e
}

// RPCClientOpts returns the chain client options derived from c.
func (c *Config) RPCClientOpts() chain.RPCClientOpts {
	opts := chain.DefaultRPCClientOpts()
	opts.BatchSize = c.BatchSize
	if c.Engine.UseWebsocket {
		opts.WSURL = c.Endpoints().WS
	}
	return opts
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	endpoints := c.Endpoints()
	enc.AddString("homedir", c.HomeDir)
	enc.AddString("network", string(c.Network))
	enc.AddString("rpc_url", endpoints.RPC)
	enc.AddString("ws_url", endpoints.WS)
	enc.AddString("datadir", c.Datasets.DataDir)
	enc.AddString("restlisten", c.RawRESTListener)
	enc.AddBool("metrics", c.Metrics)
	return enc.AddObject("engine", c.Engine)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
