package engine

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/decloud-network/validator/types"
)

func DefaultConfig() Config {
	return Config{
		MinReward:           0,
		MaxReward:           types.Unbounded,
		AutoClaim:           true,
		AutoValidate:        true,
		MaxConcurrentRounds: 3,
		PollInterval:        30 * time.Second,
		ResyncInterval:      5 * time.Minute,
		UseWebsocket:        true,
		SubmitTimeout:       time.Minute,
		DrainTimeout:        30 * time.Second,
	}
}

//nolint:lll
type Config struct {
	MinReward       types.Amount `long:"min-reward"       description:"Minimum round reward to claim, in SOL"`
	MaxReward       types.Amount `long:"max-reward"       description:"Maximum round reward to claim, in SOL (inf for no limit)"`
	AllowedDatasets []string     `long:"allowed-dataset"  description:"Only claim rounds using this dataset (can be repeated, empty allows all)"`
	OnlyDownloaded  bool         `long:"only-downloaded"  description:"Only claim rounds whose dataset is downloaded"`

	AutoClaim    bool `long:"auto-claim"    description:"Claim eligible rounds and rewards automatically"`
	AutoStart    bool `long:"auto-start"    description:"Start the training monitor when a claimed round begins training"`
	AutoValidate bool `long:"auto-validate" description:"Score submissions and finalize rounds automatically"`
	DryRun       bool `long:"dry-run"       description:"Evaluate rounds but never submit instructions"`

	MaxConcurrentRounds int           `long:"max-concurrent-rounds" description:"Maximum number of claimed rounds that are not finished"`
	PollInterval        time.Duration `long:"poll-interval"         description:"Interval between full round scans when polling"`
	ResyncInterval      time.Duration `long:"resync-interval"       description:"Interval between full round scans when subscribed to updates"`
	ClaimDelay          time.Duration `long:"claim-delay"           description:"Delay before submitting a claim"`
	UseWebsocket        bool          `long:"use-websocket"         description:"Receive round updates over a websocket subscription"`
	SubmitTimeout       time.Duration `long:"submit-timeout"        description:"Timeout for submitting and confirming an instruction"`
	DrainTimeout        time.Duration `long:"drain-timeout"         description:"Time to wait for in-flight instructions on shutdown"`

	Referrer string `long:"referrer" description:"Referrer wallet forwarded with claims"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("min_reward", c.MinReward.String())
	enc.AddString("max_reward", c.MaxReward.String())
	enc.AddInt("allowed_datasets", len(c.AllowedDatasets))
	enc.AddBool("only_downloaded", c.OnlyDownloaded)
	enc.AddBool("auto_claim", c.AutoClaim)
	enc.AddBool("auto_start", c.AutoStart)
	enc.AddBool("auto_validate", c.AutoValidate)
	enc.AddBool("dry_run", c.DryRun)
	enc.AddInt("max_concurrent_rounds", c.MaxConcurrentRounds)
	enc.AddDuration("poll_interval", c.PollInterval)
	enc.AddDuration("claim_delay", c.ClaimDelay)
	enc.AddBool("use_websocket", c.UseWebsocket)
	return nil
}
