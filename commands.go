package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/chain"
	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/datasets"
	"github.com/decloud-network/validator/engine"
	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/server"
	"github.com/decloud-network/validator/session"
	"github.com/decloud-network/validator/types"
)

const balanceTimeout = 10 * time.Second

// app is shared by all commands. cfg is fully parsed by the time a command
// executes.
type app struct {
	cfg *config.Config
	in  io.Reader
	out io.Writer
}

func newParser(a *app) *flags.Parser {
	parser := flags.NewParser(a.cfg, flags.Default)
	parser.LongDescription = "DECLOUD validator: claims training rounds, validates them and manages the dataset cache."

	mustAdd := func(cmd *flags.Command, err error) *flags.Command {
		if err != nil {
			panic(err)
		}
		return cmd
	}

	mustAdd(parser.AddCommand("start", "Run the validator", "Run the round engine and the REST API until interrupted.", &startCommand{app: a}))
	mustAdd(parser.AddCommand("login", "Check a private key", "Load a private key and show its address and balance.", &loginCommand{app: a}))
	mustAdd(parser.AddCommand("rounds", "List rounds", "List all rounds known to the ledger.", &roundsCommand{app: a}))
	mustAdd(parser.AddCommand("abort", "Abort a round", "Abort a round this validator owns.", &abortCommand{app: a}))
	mustAdd(parser.AddCommand("setup", "Configure the validator", "Interactively choose the network, wallet, referrer, automation and reward filters.", &setupCommand{app: a}))
	mustAdd(parser.AddCommand("info", "Show validator info", "Show the identity, network and local state of the validator.", &infoCommand{app: a}))

	ds := mustAdd(parser.AddCommand("datasets", "Manage datasets", "Download, list and remove cached training datasets.", &struct{}{}))
	mustAdd(ds.AddCommand("download", "Download datasets", "Download datasets by name, by category, the minimal set or everything.", &datasetsDownloadCommand{app: a}))
	mustAdd(ds.AddCommand("list", "List datasets", "List the dataset catalog with the local state of each entry.", &datasetsListCommand{app: a}))
	mustAdd(ds.AddCommand("remove", "Remove datasets", "Delete downloaded datasets from the cache.", &datasetsRemoveCommand{app: a}))

	cfg := mustAdd(parser.AddCommand("config", "Manage configuration", "Show and change persisted configuration values.", &struct{}{}))
	mustAdd(cfg.AddCommand("show", "Show configuration", "Show the current value of every option.", &configShowCommand{app: a}))
	mustAdd(cfg.AddCommand("set", "Set an option", "Validate and persist a new value for an option.", &configSetCommand{app: a}))
	mustAdd(cfg.AddCommand("list", "List options", "List the options that can be set.", &configListCommand{app: a}))
	return parser
}

// context returns a context carrying a logger suited to the command. Only
// the start command logs to a file.
func (a *app) context(logFile string) context.Context {
	level := zap.WarnLevel
	if a.cfg.DebugLog {
		level = zap.DebugLevel
	} else if logFile != "" {
		level = zap.InfoLevel
	}
	logger := logging.New(level, logFile, a.cfg.JSONLog)
	return logging.NewContext(context.Background(), logger)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) newClient(ctx context.Context) (*chain.RPCClient, error) {
	opts := a.cfg.RPCClientOpts()
	opts.Logger = logging.FromContext(ctx).Named("chain")
	return chain.NewRPCClient(a.cfg.Endpoints().RPC, opts)
}

// newEngine builds a round engine that keeps no state on disk, so that it can
// be used while the validator is running.
func (a *app) newEngine(ctx context.Context) (*engine.Engine, *session.Session, error) {
	sess, err := session.LoginFrom(a.cfg.KeyFile)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(ctx, "", client, sess, installedSet{dataDir: a.cfg.Datasets.DataDir, names: a.cfg.InstalledDatasets}, engine.WithConfig(a.cfg.Engine))
	if err != nil {
		return nil, nil, err
	}
	return eng, sess, nil
}

func (a *app) newDatasets(ctx context.Context) (*datasets.Manager, error) {
	store := config.NewStore(a.cfg)
	return datasets.New(ctx, a.cfg.Datasets,
		datasets.WithInstalled(a.cfg.InstalledDatasets),
		datasets.WithWriteBack(store.SetInstalledDatasets),
	)
}

// installedSet answers dataset queries from the installed set persisted in
// the config file, without opening the dataset cache. Names whose files are
// gone from dataDir are not downloaded.
type installedSet struct {
	dataDir string
	names   []string
}

func (s installedSet) IsDownloaded(name string) bool {
	for _, n := range s.names {
		if n == name {
			return datasets.Present(s.dataDir, name)
		}
	}
	return false
}

type startCommand struct {
	app *app

	NoAutoClaim bool `long:"no-auto-claim" description:"Do not claim rounds or rewards automatically"`
	NoWebsocket bool `long:"no-websocket"  description:"Poll for rounds instead of subscribing"`
}

func (c *startCommand) Execute([]string) error {
	cfg := c.app.cfg
	if c.NoAutoClaim {
		cfg.Engine.AutoClaim = false
	}
	if c.NoWebsocket {
		cfg.Engine.UseWebsocket = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := c.app.context(filepath.Join(cfg.LogDir, "validator.log"))
	logger := logging.FromContext(ctx)
	defer func() {
		logger.Info("shutdown complete")
	}()

	// Show version at startup.
	logger.Sugar().Infof("version: %s, dir: %v, datadir: %v, network: %v", version, cfg.HomeDir, cfg.Datasets.DataDir, cfg.Network)
	logger.Debug("configuration", zap.Object("config", cfg))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failure in server: %w", err)
	}
	return nil
}

type loginCommand struct {
	app *app

	Save bool `long:"save" description:"Store the keyfile path in the config file"`
	Args struct {
		Keyfile string `positional-arg-name:"keyfile"`
	} `positional-args:"yes"`
}

func (c *loginCommand) Execute([]string) error {
	keyfile := c.Args.Keyfile
	if keyfile == "" {
		keyfile = c.app.cfg.KeyFile
	}
	var (
		sess *session.Session
		err  error
	)
	if c.Args.Keyfile != "" {
		var material []byte
		if material, err = os.ReadFile(keyfile); err != nil { //#nosec G304
			return fmt.Errorf("reading keyfile: %w", err)
		}
		sess, err = session.Login(material)
	} else {
		sess, err = session.LoginFrom(keyfile)
	}
	if err != nil {
		return err
	}
	c.app.printf("Logged in as %s\n", color.CyanString(sess.PublicKey()))

	ctx, cancel := context.WithTimeout(c.app.context(""), balanceTimeout)
	defer cancel()
	if client, err := c.app.newClient(ctx); err == nil {
		if balance, err := sess.RefreshBalance(ctx, client); err == nil {
			c.app.printf("Balance: %s SOL\n", balance)
		} else {
			c.app.printf("Balance: %s\n", color.YellowString("unavailable (%v)", err))
		}
	}

	if !c.Save {
		return nil
	}
	if keyfile == "" {
		return errors.New("--save requires a keyfile")
	}
	abs, err := filepath.Abs(keyfile)
	if err != nil {
		return err
	}
	if err := config.NewStore(c.app.cfg).Set("keyfile", abs); err != nil {
		return err
	}
	c.app.printf("Keyfile %s saved to %s\n", abs, c.app.cfg.ConfigFile)
	return nil
}

type roundsCommand struct {
	app *app

	Missing bool `long:"missing-datasets" description:"Only list datasets needed by open rounds that are not downloaded"`
}

func (c *roundsCommand) Execute([]string) error {
	ctx := c.app.context("")
	eng, sess, err := c.app.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	if c.Missing {
		missing, err := eng.GetMissingDatasets(ctx)
		if err != nil {
			return err
		}
		if len(missing) == 0 {
			c.app.printf("All datasets of open rounds are downloaded\n")
			return nil
		}
		for _, name := range missing {
			c.app.printf("%s\n", name)
		}
		c.app.printf("\nDownload with: validator datasets download %s\n", missing[0])
		return nil
	}

	views, err := eng.GetAllRounds(ctx)
	if err != nil {
		return err
	}
	printRounds(c.app.out, views, sess.PublicKey())
	s := engine.Summarize(views)
	c.app.printf("\n%d rounds: %d waiting, %d active, %d completed\n", s.Total, s.Waiting, s.Active, s.Completed)
	return nil
}

func statusColor(status types.RoundStatus) string {
	switch {
	case status == types.StatusWaitingValidator:
		return color.GreenString(status.String())
	case status.IsActive():
		return color.CyanString(status.String())
	case status == types.StatusCompleted:
		return color.BlueString(status.String())
	default:
		return color.HiBlackString(status.String())
	}
}

func printRounds(w io.Writer, views []engine.RoundView, me string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Status", "Dataset", "Reward (SOL)", "Trainers", "Submissions", "Validator"})
	table.SetBorder(false)
	table.SetAutoFormatHeaders(false)
	for _, v := range views {
		dataset := v.Dataset
		if v.DatasetDownloaded {
			dataset += " " + color.GreenString("(ready)")
		}
		validator := v.Validator
		switch {
		case validator == me:
			validator = color.YellowString("you")
		case len(validator) > 12:
			validator = validator[:4] + ".." + validator[len(validator)-4:]
		}
		table.Append([]string{
			strconv.FormatUint(v.ID, 10),
			statusColor(v.Status),
			dataset,
			v.RewardAmount.String(),
			strconv.FormatUint(uint64(v.TrainersCount), 10),
			strconv.FormatUint(uint64(v.SubmissionsCount), 10),
			validator,
		})
	}
	table.Render()
}

type abortCommand struct {
	app *app

	Args struct {
		RoundID uint64 `positional-arg-name:"round-id" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (c *abortCommand) Execute([]string) error {
	ctx := c.app.context("")
	eng, sess, err := c.app.newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	sig, err := eng.AbortRound(ctx, c.Args.RoundID, sess.PublicKey())
	if err != nil {
		return err
	}
	switch {
	case sig == "" && eng.Config().DryRun:
		c.app.printf("Dry run: round %d would be aborted\n", c.Args.RoundID)
	case sig == "":
		c.app.printf("Round %d is already finished\n", c.Args.RoundID)
	default:
		c.app.printf("Round %d aborted, transaction %s\n", c.Args.RoundID, sig)
	}
	return nil
}

type infoCommand struct {
	app *app
}

func (c *infoCommand) Execute([]string) error {
	cfg := c.app.cfg
	endpoints := cfg.Endpoints()
	c.app.printf("Version:     %s\n", version)
	c.app.printf("Network:     %s\n", cfg.Network)
	c.app.printf("RPC:         %s\n", endpoints.RPC)
	if cfg.Engine.UseWebsocket && endpoints.WS != "" {
		c.app.printf("Websocket:   %s\n", endpoints.WS)
	}
	c.app.printf("Program:     %s\n", config.ProgramID)
	c.app.printf("Config file: %s\n", cfg.ConfigFile)
	c.app.printf("Data dir:    %s\n", cfg.Datasets.DataDir)
	c.app.printf("Datasets:    %d/%d installed\n", len(cfg.InstalledDatasets), len(datasets.Catalog()))
	c.app.printf("Auto claim:  %t, auto start: %t, auto validate: %t, dry run: %t\n",
		cfg.Engine.AutoClaim, cfg.Engine.AutoStart, cfg.Engine.AutoValidate, cfg.Engine.DryRun)

	sess, err := session.LoginFrom(cfg.KeyFile)
	if err != nil {
		c.app.printf("Wallet:      %s\n", color.YellowString("not logged in"))
		return nil
	}
	c.app.printf("Wallet:      %s\n", sess.PublicKey())

	ctx, cancel := context.WithTimeout(c.app.context(""), balanceTimeout)
	defer cancel()
	client, err := c.app.newClient(ctx)
	if err != nil {
		return err
	}
	balance, err := sess.RefreshBalance(ctx, client)
	if err != nil {
		c.app.printf("Balance:     %s\n", color.YellowString("unavailable"))
		return nil
	}
	c.app.printf("Balance:     %s SOL\n", balance)
	return nil
}

type datasetsDownloadCommand struct {
	app *app

	Category  string `long:"category"   description:"Download every dataset of a category"`
	Minimal   bool   `long:"minimal"    description:"Download the small starter set"`
	All       bool   `long:"all"        description:"Download the whole catalog"`
	SkipLarge bool   `long:"skip-large" description:"Skip datasets above the large threshold"`
	Args      struct {
		Names []string `positional-arg-name:"name"`
	} `positional-args:"yes"`
}

func (c *datasetsDownloadCommand) Execute([]string) error {
	ctx := c.app.context("")
	manager, err := c.app.newDatasets(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	var batch *datasets.BatchResult
	switch {
	case len(c.Args.Names) > 0:
		batch = &datasets.BatchResult{Failed: make(map[string]error)}
		for _, name := range c.Args.Names {
			c.app.printf("Downloading %s...\n", name)
			res, err := manager.Download(ctx, name)
			switch {
			case err != nil:
				batch.Failed[name] = err
			case res.AlreadyPresent:
				batch.Present = append(batch.Present, name)
			default:
				batch.Downloaded = append(batch.Downloaded, name)
			}
		}
	case c.Category != "":
		category, ok := datasets.ParseCategory(c.Category)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownCategory, c.Category)
		}
		batch, err = manager.DownloadCategory(ctx, category, c.SkipLarge)
	case c.Minimal:
		batch, err = manager.DownloadMinimal(ctx)
	case c.All:
		c.app.printf("Estimated total size: %s\n", humanize.Bytes(manager.EstimateTotalSize()))
		batch, err = manager.DownloadAll(ctx, c.SkipLarge)
	default:
		return errors.New("specify dataset names, --category, --minimal or --all")
	}
	if batch == nil {
		return err
	}

	c.app.printf("Downloaded: %d, already present: %d, skipped: %d, failed: %d\n",
		len(batch.Downloaded), len(batch.Present), len(batch.Skipped), len(batch.Failed))
	failed := make([]string, 0, len(batch.Failed))
	for name := range batch.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		c.app.printf("  %s %s: %v\n", color.RedString("failed"), name, batch.Failed[name])
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d datasets failed to download", len(failed))
	}
	return nil
}

type datasetsListCommand struct {
	app *app

	Category  string `long:"category"  description:"Only list datasets of this category"`
	Installed bool   `long:"installed" description:"Only list downloaded datasets"`
}

func (c *datasetsListCommand) Execute([]string) error {
	ctx := c.app.context("")
	manager, err := c.app.newDatasets(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	records := manager.ListDatasets()
	table := tablewriter.NewWriter(c.app.out)
	table.SetHeader([]string{"#", "Name", "Category", "Size", "Status"})
	table.SetBorder(false)
	table.SetAutoFormatHeaders(false)
	ready := 0
	for _, r := range records {
		if r.Installed {
			ready++
		}
		if c.Category != "" && string(r.Category) != c.Category {
			continue
		}
		if c.Installed && !r.Installed {
			continue
		}
		status := color.HiBlackString("missing")
		if r.Installed {
			status = color.GreenString("ready")
		}
		table.Append([]string{strconv.Itoa(int(r.Index)), r.Name, string(r.Category), r.HumanSize(), status})
	}
	table.Render()
	c.app.printf("\n%d/%d datasets ready\n", ready, len(records))
	return nil
}

type datasetsRemoveCommand struct {
	app *app

	Args struct {
		Names []string `positional-arg-name:"name" required:"1"`
	} `positional-args:"yes" required:"yes"`
}

func (c *datasetsRemoveCommand) Execute([]string) error {
	ctx := c.app.context("")
	manager, err := c.app.newDatasets(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	for _, name := range c.Args.Names {
		if err := manager.Remove(name); err != nil {
			return err
		}
		c.app.printf("Removed %s\n", name)
	}
	return nil
}

type configShowCommand struct {
	app *app
}

func (c *configShowCommand) Execute([]string) error {
	store := config.NewStore(c.app.cfg)
	c.app.printf("# %s\n", c.app.cfg.ConfigFile)
	for _, o := range config.Options() {
		value, err := store.Get(o.Key)
		if err != nil {
			return err
		}
		c.app.printf("%s = %s\n", o.Key, value)
	}
	return nil
}

type configSetCommand struct {
	app *app

	Args struct {
		Key   string `positional-arg-name:"key"   required:"yes"`
		Value string `positional-arg-name:"value" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (c *configSetCommand) Execute([]string) error {
	store := config.NewStore(c.app.cfg)
	if err := store.Set(c.Args.Key, c.Args.Value); err != nil {
		return err
	}
	value, err := store.Get(c.Args.Key)
	if err != nil {
		return err
	}
	c.app.printf("%s = %s\n", c.Args.Key, value)
	return nil
}

type configListCommand struct {
	app *app
}

func (c *configListCommand) Execute([]string) error {
	table := tablewriter.NewWriter(c.app.out)
	table.SetHeader([]string{"Key", "Type", "Description"})
	table.SetBorder(false)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, o := range config.Options() {
		table.Append([]string{o.Key, o.Type, o.Description})
	}
	table.Render()
	return nil
}
