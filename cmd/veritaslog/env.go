package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"xdao.co/veritaslog/app"
	"xdao.co/veritaslog/config"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/model"
)

// PassphraseEnvVar unlocks sealed wallets without a prompt.
const PassphraseEnvVar = "VERITASLOG_PASSPHRASE"

// stdin is swapped by tests.
var stdin io.Reader = os.Stdin

type nodeFlags struct {
	configPath string
}

func (n *nodeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&n.configPath, "config", "", "Config file (default $"+config.EnvVar+")")
}

// open loads the config and wires an App whose registrations are owned by
// owner. Logs go to errOut.
func (n *nodeFlags) open(ctx context.Context, owner string, errOut io.Writer) (*app.App, error) {
	cfg, err := config.Load(n.configPath)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Log.NewLogger(errOut)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{Logger: log, Owner: owner})
}

type walletFlags struct {
	dir            string
	name           string
	label          string
	seedHex        string
	keyFile        string
	promptPassword bool
}

func (w *walletFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&w.dir, "wallet-dir", "", "Wallet directory (default ~/.veritaslog/wallets)")
	fs.StringVar(&w.name, "wallet", "", "Stored wallet name")
	fs.StringVar(&w.label, "label", "", "Derived subkey label of --wallet")
	fs.StringVar(&w.seedHex, "seed-hex", "", "Ed25519 seed as 64 hex chars")
	fs.StringVar(&w.keyFile, "key-file", "", "Seed file written by 'wallet init/derive'")
	fs.BoolVar(&w.promptPassword, "passphrase-prompt", false, "Prompt for the wallet passphrase")
}

func (w *walletFlags) given() bool {
	return w.name != "" || w.seedHex != "" || w.keyFile != ""
}

func (w *walletFlags) store(errOut io.Writer) (*keys.KeyStore, error) {
	ks, err := keys.OpenKeyStore(w.dir)
	if err != nil {
		return nil, err
	}
	ks.Passphrase = os.Getenv(PassphraseEnvVar)
	if w.promptPassword {
		if ks.Passphrase, err = readPassphrase(errOut, "Wallet passphrase: "); err != nil {
			return nil, err
		}
	}
	return ks, nil
}

func (w *walletFlags) resolve(errOut io.Writer) (*keys.Wallet, error) {
	if !w.given() {
		return nil, fmt.Errorf("missing wallet: use --wallet, --seed-hex or --key-file")
	}
	if w.seedHex != "" && (w.name != "" || w.keyFile != "") {
		return nil, fmt.Errorf("conflicting wallet flags: --seed-hex cannot be combined with --wallet or --key-file")
	}
	if w.name != "" && w.keyFile != "" {
		return nil, fmt.Errorf("conflicting wallet flags: --wallet cannot be combined with --key-file")
	}
	ks, err := w.store(errOut)
	if err != nil {
		return nil, err
	}
	return ks.Resolve(w.seedHex, w.keyFile, w.name, w.label)
}

// readPassphrase reads without echo from a terminal, or one line from stdin
// otherwise.
func readPassphrase(errOut io.Writer, prompt string) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(errOut, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty passphrase")
	}
	return line, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail prints err with its API code when it carries one and returns the exit
// code.
func fail(errOut io.Writer, what string, err error) int {
	if model.KindOf(err) != "" {
		coded := model.ToCoded(err)
		fmt.Fprintf(errOut, "%s: %s: %s\n", what, coded.Code, err)
		return 1
	}
	fmt.Fprintf(errOut, "%s: %v\n", what, err)
	return 1
}
