package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "canon":
		return cmdCanon(args[1:], out, errOut)
	case "commit":
		return cmdCommit(args[1:], out, errOut)
	case "register":
		return cmdRegister(args[1:], out, errOut)
	case "logs":
		return cmdLogs(args[1:], out, errOut)
	case "show":
		return cmdShow(args[1:], out, errOut)
	case "access":
		return cmdAccess(args[1:], out, errOut)
	case "decrypt":
		return cmdDecrypt(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "archive":
		return cmdArchive(args[1:], out, errOut)
	case "wallet":
		return cmdWallet(args[1:], out, errOut)
	case "receipt":
		return cmdReceipt(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "veritaslog: register and verify tamper-evident compliance logs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  veritaslog canon [--mode permissive|strict] [--json] [<file>]")
	fmt.Fprintln(w, "  veritaslog commit --title <t> --severity LOW|MEDIUM|HIGH --module <m> [--notes <n>] --created-at <unix> [--cid] [<file>]")
	fmt.Fprintln(w, "  veritaslog register --title <t> --severity <s> --module <m> [--notes <n>] [--created-at <unix>] [<file>]")
	fmt.Fprintln(w, "  veritaslog logs [--limit <n>]")
	fmt.Fprintln(w, "  veritaslog show <log-id>")
	fmt.Fprintln(w, "  veritaslog access request <log-id> [--reason <text>]")
	fmt.Fprintln(w, "  veritaslog access approve <log-id> --requester <address>")
	fmt.Fprintln(w, "  veritaslog access reject <log-id> --requester <address> [--reason <text>]")
	fmt.Fprintln(w, "  veritaslog decrypt <log-id> [--bundle]")
	fmt.Fprintln(w, "  veritaslog verify <log-id> [--candidate <file> --title ... ] [--receipt <out>] [--pq]")
	fmt.Fprintln(w, "  veritaslog archive export --out <file> [--compression none|lz4|zstd] [<log-id> ...]")
	fmt.Fprintln(w, "  veritaslog archive import <file>")
	fmt.Fprintln(w, "  veritaslog wallet init --name <name> [--seed-hex <64hex>] [--seal] [--force]")
	fmt.Fprintln(w, "  veritaslog wallet derive --from <name> --label <label> [--force]")
	fmt.Fprintln(w, "  veritaslog wallet list")
	fmt.Fprintln(w, "  veritaslog wallet address (--wallet <name> [--label <l>] | --seed-hex <64hex> | --key-file <path>)")
	fmt.Fprintln(w, "  veritaslog receipt verify <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - commands touching the ledger or blob store read --config or $VERITASLOG_CONFIG")
	fmt.Fprintln(w, "  - wallets live under ~/.veritaslog/wallets unless --wallet-dir is given")
	fmt.Fprintln(w, "  - sealed wallets read the passphrase from $VERITASLOG_PASSPHRASE or --passphrase-prompt")
	fmt.Fprintln(w, "  - verify exits 3 when the log does not match its commitment")
}

// exitMismatch is the exit code of a verification that completed with a
// mismatch.
const exitMismatch = 3

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.SortFlags = false
	return fs
}

// parse returns -1 to continue, or the exit code to return.
func parse(fs *pflag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	return -1
}

func readInput(fs *pflag.FlagSet, stdin io.Reader) ([]byte, error) {
	switch fs.NArg() {
	case 0:
		return io.ReadAll(stdin)
	case 1:
		if fs.Arg(0) == "-" {
			return io.ReadAll(stdin)
		}
		return os.ReadFile(fs.Arg(0))
	default:
		return nil, fmt.Errorf("expected at most one input file, got %d", fs.NArg())
	}
}
