package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"xdao.co/veritaslog/keys"
)

func cmdWallet(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: veritaslog wallet <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: init, derive, list, address")
		return 2
	}
	switch args[0] {
	case "init":
		return cmdWalletInit(args[1:], out, errOut)
	case "derive":
		return cmdWalletDerive(args[1:], out, errOut)
	case "list":
		return cmdWalletList(args[1:], out, errOut)
	case "address":
		return cmdWalletAddress(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown wallet subcommand: %s\n", args[0])
		return 2
	}
}

func cmdWalletInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("wallet init", errOut)
	var wf walletFlags
	var name string
	var seal, force bool
	fs.StringVar(&wf.dir, "wallet-dir", "", "Wallet directory (default ~/.veritaslog/wallets)")
	fs.StringVar(&name, "name", "", "Wallet name")
	fs.StringVar(&wf.seedHex, "seed-hex", "", "Ed25519 seed as 64 hex chars (default random)")
	fs.BoolVar(&seal, "seal", false, "Encrypt the seed file with a passphrase")
	fs.BoolVar(&force, "force", false, "Overwrite an existing wallet")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}

	seed := make([]byte, ed25519.SeedSize)
	if wf.seedHex != "" {
		var err error
		if seed, err = keys.ParseSeedHex(wf.seedHex); err != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
	} else if _, err := rand.Read(seed); err != nil {
		return fail(errOut, "seed", err)
	}

	wf.promptPassword = seal
	ks, err := wf.store(errOut)
	if err != nil {
		return fail(errOut, "wallet", err)
	}
	if seal && ks.Passphrase == "" {
		fmt.Fprintln(errOut, "--seal needs a passphrase")
		return 2
	}
	if !seal {
		ks.Passphrase = ""
	}
	w, path, err := ks.InitWallet(name, seed, force)
	if err != nil {
		return fail(errOut, "wallet init", err)
	}
	fmt.Fprintf(errOut, "wrote %s\n", path)
	_, _ = fmt.Fprintln(out, w.Address())
	return 0
}

func cmdWalletDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("wallet derive", errOut)
	var wf walletFlags
	var from, label string
	var force bool
	fs.StringVar(&wf.dir, "wallet-dir", "", "Wallet directory (default ~/.veritaslog/wallets)")
	fs.StringVar(&from, "from", "", "Root wallet name")
	fs.StringVar(&label, "label", "", "Subkey label")
	fs.BoolVar(&wf.promptPassword, "passphrase-prompt", false, "Prompt for the wallet passphrase")
	fs.BoolVar(&force, "force", false, "Overwrite an existing subkey")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	if from == "" || label == "" {
		fmt.Fprintln(errOut, "usage: veritaslog wallet derive --from <name> --label <label>")
		return 2
	}
	ks, err := wf.store(errOut)
	if err != nil {
		return fail(errOut, "wallet", err)
	}
	w, path, err := ks.DeriveWallet(from, label, force)
	if err != nil {
		return fail(errOut, "wallet derive", err)
	}
	fmt.Fprintf(errOut, "wrote %s\n", path)
	_, _ = fmt.Fprintln(out, w.Address())
	return 0
}

func cmdWalletList(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("wallet list", errOut)
	var wf walletFlags
	fs.StringVar(&wf.dir, "wallet-dir", "", "Wallet directory (default ~/.veritaslog/wallets)")
	fs.BoolVar(&wf.promptPassword, "passphrase-prompt", false, "Prompt for the passphrase to show sealed addresses")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	ks, err := wf.store(errOut)
	if err != nil {
		return fail(errOut, "wallet", err)
	}
	entries, err := ks.List()
	if err != nil {
		return fail(errOut, "wallet list", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tSEALED\tDERIVED")
	for _, e := range entries {
		addr := e.Address
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", e.Name, addr, e.Sealed, strings.Join(e.Derived, ","))
	}
	if err := tw.Flush(); err != nil {
		return fail(errOut, "write", err)
	}
	return 0
}

func cmdWalletAddress(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("wallet address", errOut)
	var wf walletFlags
	var showKey bool
	wf.bind(fs)
	fs.BoolVar(&showKey, "public-key", false, "Also print the encoded public key")
	if code := parse(fs, args); code >= 0 {
		return code
	}
	w, err := wf.resolve(errOut)
	if err != nil {
		fmt.Fprintf(errOut, "wallet: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(out, w.Address())
	if showKey {
		pk, err := keys.EncodePublicKey(w.PublicKey())
		if err != nil {
			return fail(errOut, "public key", err)
		}
		_, _ = fmt.Fprintln(out, pk)
	}
	return 0
}
