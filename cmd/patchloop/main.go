package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "index":
		indexCmd(os.Args[2:])
	case "validate-policy":
		validatePolicyCmd(os.Args[2:])
	case "tool":
		toolCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  patchloop run --repo <dir> --goal <text> [--config <file.toml>] [--constraint <text>]... [--max-retries <n>] [--max-duration <dur>] [--max-tokens <n>] [--trace-dir <dir>] [--verbose]")
	fmt.Fprintln(os.Stderr, "  patchloop index --repo <dir> [--snapshot <file>]")
	fmt.Fprintln(os.Stderr, "  patchloop validate-policy --rules <file.yaml> --diff <file>")
	fmt.Fprintln(os.Stderr, "  patchloop tool list [--repo <dir>] [--rules <file.yaml>]")
	fmt.Fprintln(os.Stderr, "  patchloop tool run <name> [--repo <dir>] [--rules <file.yaml>] [--params <json>]")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// flagValue consumes the value following args[*i], advancing the cursor.
func flagValue(args []string, i *int) string {
	*i++
	if *i >= len(args) {
		fatal("%s requires a value", args[*i-1])
	}
	return args[*i]
}
