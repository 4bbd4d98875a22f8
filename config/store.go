package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/decloud-network/validator/types"
	"github.com/decloud-network/validator/util"
)

// Option describes a key that can be changed with Store.Set.
type Option struct {
	Key         string
	Type        string
	Description string

	get func(*Config) string
	set func(*Config, string) error
}

var options = []Option{
	{
		Key: "network", Type: "str", Description: "Network name (devnet/testnet/mainnet)",
		get: func(c *Config) string { return string(c.Network) },
		set: func(c *Config, v string) error { return c.Network.UnmarshalFlag(v) },
	},
	{
		Key: "rpc_url", Type: "str", Description: "RPC endpoint URL",
		get: func(c *Config) string { return c.RPCURL },
		set: func(c *Config, v string) error { c.RPCURL = v; return nil },
	},
	{
		Key: "ws_url", Type: "str", Description: "WebSocket endpoint URL",
		get: func(c *Config) string { return c.WSURL },
		set: func(c *Config, v string) error { c.WSURL = v; return nil },
	},
	{
		Key: "use_websocket", Type: "bool", Description: "Receive round updates over websocket instead of polling",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.UseWebsocket) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.UseWebsocket }),
	},
	{
		Key: "referrer", Type: "str", Description: "Referral wallet address forwarded with claims",
		get: func(c *Config) string { return c.Engine.Referrer },
		set: func(c *Config, v string) error { c.Engine.Referrer = v; return nil },
	},
	{
		Key: "min_reward", Type: "float", Description: "Minimum reward in SOL",
		get: func(c *Config) string { return c.Engine.MinReward.String() },
		set: func(c *Config, v string) error { return c.Engine.MinReward.UnmarshalFlag(v) },
	},
	{
		Key: "max_reward", Type: "float", Description: "Maximum reward in SOL (inf for no limit)",
		get: func(c *Config) string { return c.Engine.MaxReward.String() },
		set: func(c *Config, v string) error { return c.Engine.MaxReward.UnmarshalFlag(v) },
	},
	{
		Key: "only_downloaded", Type: "bool", Description: "Only claim if dataset downloaded",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.OnlyDownloaded) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.OnlyDownloaded }),
	},
	{
		Key: "allowed_datasets", Type: "list", Description: "Comma separated datasets to claim rounds for (empty for all)",
		get: func(c *Config) string { return strings.Join(c.Engine.AllowedDatasets, ",") },
		set: func(c *Config, v string) error { c.Engine.AllowedDatasets = splitList(v); return nil },
	},
	{
		Key: "auto_claim", Type: "bool", Description: "Auto-claim matching rounds and rewards",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.AutoClaim) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.AutoClaim }),
	},
	{
		Key: "auto_start", Type: "bool", Description: "Auto-start training",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.AutoStart) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.AutoStart }),
	},
	{
		Key: "auto_validate", Type: "bool", Description: "Auto-validate submissions",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.AutoValidate) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.AutoValidate }),
	},
	{
		Key: "max_concurrent_rounds", Type: "int", Description: "Max concurrent rounds",
		get: func(c *Config) string { return strconv.Itoa(c.Engine.MaxConcurrentRounds) },
		set: positiveIntSetter(func(c *Config) *int { return &c.Engine.MaxConcurrentRounds }),
	},
	{
		Key: "dry_run", Type: "bool", Description: "Monitor only, don't claim",
		get: func(c *Config) string { return strconv.FormatBool(c.Engine.DryRun) },
		set: boolSetter(func(c *Config) *bool { return &c.Engine.DryRun }),
	},
	{
		Key: "poll_interval", Type: "int", Description: "Seconds between polls",
		get: func(c *Config) string { return formatSeconds(c.Engine.PollInterval) },
		set: durationSetter(func(c *Config) *time.Duration { return &c.Engine.PollInterval }, true),
	},
	{
		Key: "claim_delay", Type: "float", Description: "Delay before claiming, in seconds",
		get: func(c *Config) string { return formatSeconds(c.Engine.ClaimDelay) },
		set: durationSetter(func(c *Config) *time.Duration { return &c.Engine.ClaimDelay }, false),
	},
	{
		Key: "batch_size", Type: "int", Description: "Number of rounds requested per page",
		get: func(c *Config) string { return strconv.Itoa(c.BatchSize) },
		set: positiveIntSetter(func(c *Config) *int { return &c.BatchSize }),
	},
	{
		Key: "data_dir", Type: "str", Description: "Dataset directory",
		get: func(c *Config) string { return c.Datasets.DataDir },
		set: func(c *Config, v string) error { c.Datasets.DataDir = cleanAndExpandPath(v); return nil },
	},
	{
		Key: "keyfile", Type: "str", Description: "Path to the keypair file",
		get: func(c *Config) string { return c.KeyFile },
		set: func(c *Config, v string) error { c.KeyFile = cleanAndExpandPath(v); return nil },
	},
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("expected a boolean: %w", err)
		}
		*field(c) = b
		return nil
	}
}

func positiveIntSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("expected an integer: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("expected a positive integer, got %d", n)
		}
		*field(c) = n
		return nil
	}
}

// durationSetter accepts Go durations ("1m30s") or plain seconds ("1.5").
func durationSetter(field func(*Config) *time.Duration, positive bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		v = strings.TrimSpace(v)
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, ferr := strconv.ParseFloat(v, 64)
			if ferr != nil {
				return fmt.Errorf("expected seconds or a duration: %w", err)
			}
			d = time.Duration(secs * float64(time.Second))
		}
		if d < 0 || (positive && d == 0) {
			return fmt.Errorf("invalid duration %s", d)
		}
		*field(c) = d
		return nil
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lookup(key string) (Option, error) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	for _, o := range options {
		if o.Key == key {
			return o, nil
		}
	}
	return Option{}, fmt.Errorf("%w: %q", types.ErrUnknownConfigKey, key)
}

// Options lists the keys accepted by Store.Set.
func Options() []Option {
	return append([]Option(nil), options...)
}

// Store owns the configuration file. Changes are validated and written back
// atomically; the running engine keeps the snapshot it was started with.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// NewStore wraps cfg, persisting it to cfg.ConfigFile.
func NewStore(cfg *Config) *Store {
	return &Store{path: cfg.ConfigFile, cfg: cfg}
}

// Config returns a snapshot of the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.cfg)
}

func clone(c *Config) Config {
	out := *c
	out.InstalledDatasets = append([]string(nil), c.InstalledDatasets...)
	out.Engine.AllowedDatasets = append([]string(nil), c.Engine.AllowedDatasets...)
	out.Datasets.Gateways = append([]string(nil), c.Datasets.Gateways...)
	return out
}

// Get returns the current value of key.
func (s *Store) Get(key string) (string, error) {
	o, err := lookup(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.get(s.cfg), nil
}

// Set validates and applies value to key and saves the file.
func (s *Store) Set(key, value string) error {
	const op = "config set"
	o, err := lookup(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := clone(s.cfg)
	if err := o.set(&next, value); err != nil {
		return types.E(types.KindInvalid, op, fmt.Errorf("%s: %w", o.Key, err))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if err := save(s.path, &next); err != nil {
		return err
	}
	*s.cfg = next
	return nil
}

// SetInstalledDatasets replaces the persisted installed set. It is the
// write-back used by the dataset manager.
func (s *Store) SetInstalledDatasets(names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	next := clone(s.cfg)
	next.InstalledDatasets = sorted
	if err := save(s.path, &next); err != nil {
		return err
	}
	*s.cfg = next
	return nil
}

// Save writes the current configuration to the config file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return save(s.path, s.cfg)
}

func save(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	parser := flags.NewParser(cfg, flags.None)
	var buf bytes.Buffer
	flags.NewIniParser(parser).Write(&buf, flags.IniIncludeComments|flags.IniIncludeDefaults)
	if err := util.WriteFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
