package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mr-tron/base58"

	"github.com/decloud-network/validator/config"
	"github.com/decloud-network/validator/session"
	"github.com/decloud-network/validator/util"
)

const setupKeyFilename = "id.key"

// setupCommand walks through the common options and saves each answer with
// config.Store.Set. Empty answers keep the current value.
type setupCommand struct {
	app *app
}

type prompter struct {
	a       *app
	scanner *bufio.Scanner
}

func (p *prompter) ask(question string) string {
	p.a.printf("   %s ", color.CyanString(question))
	if !p.scanner.Scan() {
		p.a.printf("\n")
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

func (c *setupCommand) Execute([]string) error {
	a := c.app
	store := config.NewStore(a.cfg)
	p := &prompter{a: a, scanner: bufio.NewScanner(a.in)}
	ok := color.GreenString("✓")
	warn := color.YellowString("!")

	set := func(key, value string) bool {
		if err := store.Set(key, value); err != nil {
			a.printf("   %s %v, keeping %s\n", warn, err, key)
			return false
		}
		return true
	}

	a.printf("%s\n\n", color.New(color.Bold).Sprint("DECLOUD validator setup"))

	a.printf("%s\n", color.New(color.Bold).Sprint("1. Network"))
	if v := p.ask(fmt.Sprintf("Network [devnet/testnet/mainnet] (%s):", a.cfg.Network)); v != "" && set("network", v) {
		a.printf("   %s Using %s\n", ok, a.cfg.Network)
	}

	a.printf("\n%s\n", color.New(color.Bold).Sprint("2. Wallet"))
	if v := p.ask("Private key (base58) or path to keypair file:"); v != "" {
		if keyfile, pub, err := c.importKey(v); err != nil {
			a.printf("   %s %v\n", warn, err)
		} else if set("keyfile", keyfile) {
			a.printf("   %s Wallet %s, keyfile %s\n", ok, pub, keyfile)
		}
	}

	a.printf("\n%s\n", color.New(color.Bold).Sprint("3. Referral (optional)"))
	if v := p.ask("Referrer wallet (Enter to skip):"); v != "" {
		if raw, err := base58.Decode(v); err != nil || len(raw) != 32 {
			a.printf("   %s Invalid address, skipping\n", warn)
		} else if set("referrer", v) {
			a.printf("   %s Referrer set\n", ok)
		}
	}

	a.printf("\n%s\n", color.New(color.Bold).Sprint("4. Automation"))
	for _, q := range []struct{ key, question string }{
		{"auto_claim", "Auto-claim rounds and rewards? [Y/n]:"},
		{"auto_start", "Auto-start training? [Y/n]:"},
		{"auto_validate", "Auto-validate submissions? [Y/n]:"},
	} {
		set(q.key, fmt.Sprint(!strings.EqualFold(p.ask(q.question), "n")))
	}

	a.printf("\n%s\n", color.New(color.Bold).Sprint("5. Reward filters"))
	if v := p.ask(fmt.Sprintf("Minimum reward in SOL (%s):", a.cfg.Engine.MinReward)); v != "" {
		set("min_reward", v)
	}
	if v := p.ask(fmt.Sprintf("Maximum reward in SOL (%s):", a.cfg.Engine.MaxReward)); v != "" {
		set("max_reward", v)
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("reading answers: %w", err)
	}

	// Persist even if every answer was skipped.
	if err := store.Save(); err != nil {
		return err
	}
	a.printf("\n%s Configuration saved to %s\n", ok, a.cfg.ConfigFile)
	a.printf("   Network:    %s\n", a.cfg.Network)
	a.printf("   Referrer:   %s\n", orNone(a.cfg.Engine.Referrer))
	a.printf("   Auto-claim: %t\n", a.cfg.Engine.AutoClaim)
	a.printf("   Min reward: %s SOL\n", a.cfg.Engine.MinReward)
	a.printf("\nRun %s to begin.\n", color.CyanString("validator start"))
	return nil
}

// importKey resolves input to a keyfile. An existing file is used in place,
// anything else is parsed as key material and written to the home directory.
func (c *setupCommand) importKey(input string) (keyfile, pubkey string, err error) {
	if exists, _ := util.FileExists(input); exists {
		abs, err := filepath.Abs(input)
		if err != nil {
			return "", "", err
		}
		sess, err := session.LoginFrom(abs)
		if err != nil {
			return "", "", err
		}
		return abs, sess.PublicKey(), nil
	}

	sess, err := session.Login([]byte(input))
	if err != nil {
		return "", "", fmt.Errorf("not a keypair file or private key: %w", err)
	}
	keyfile = filepath.Join(c.app.cfg.HomeDir, setupKeyFilename)
	if err := os.MkdirAll(c.app.cfg.HomeDir, 0o700); err != nil {
		return "", "", err
	}
	if err := util.WriteFile(keyfile, []byte(input)); err != nil {
		return "", "", fmt.Errorf("saving private key: %w", err)
	}
	return keyfile, sess.PublicKey(), nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
