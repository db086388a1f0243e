package main

import (
	"fmt"
	"io"
	"os"

	"xdao.co/veritaslog/receipt"
)

func cmdReceipt(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: veritaslog receipt <subcommand> ...")
		fmt.Fprintln(errOut, "subcommands: verify, cid")
		return 2
	}
	switch args[0] {
	case "verify", "cid":
	default:
		fmt.Fprintf(errOut, "unknown receipt subcommand: %s\n", args[0])
		return 2
	}
	fs := newFlagSet("receipt "+args[0], errOut)
	if code := parse(fs, args[1:]); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(errOut, "usage: veritaslog receipt %s <file>\n", args[0])
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read receipt: %v\n", err)
		return 1
	}
	rc, err := receipt.Parse(b)
	if err != nil {
		fmt.Fprintf(errOut, "invalid receipt [%s]: %v\n", receipt.RuleID(err), err)
		return 1
	}
	if args[0] == "cid" {
		_, _ = fmt.Fprintln(out, rc.CID())
		return 0
	}

	if err := rc.Verify(); err != nil {
		fmt.Fprintf(errOut, "invalid receipt [%s]: %v\n", receipt.RuleID(err), err)
		return 1
	}
	st, err := rc.Statement()
	if err != nil {
		fmt.Fprintf(errOut, "invalid receipt [%s]: %v\n", receipt.RuleID(err), err)
		return 1
	}
	result := "MISMATCH"
	if st.Match {
		result = "MATCH"
	}
	_, _ = fmt.Fprintf(out, "OK %s log=%s commitment=%s mode=%s issuer=%s\n",
		result, st.LogID, st.Expected.Hex(), st.Mode, rc.IssuerKey())
	return 0
}
