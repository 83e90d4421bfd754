package main

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/index"
)

// indexCmd builds the repository index and dumps a per-file summary, mainly
// for debugging retrieval quality. With --snapshot it also persists the
// index for inspection.
func indexCmd(args []string) {
	var repo, snapshotPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			repo = flagValue(args, &i)
		case "--snapshot":
			snapshotPath = flagValue(args, &i)
		default:
			fatal("unknown arg: %s", args[i])
		}
	}
	if repo == "" {
		usage()
		os.Exit(1)
	}

	eng := index.NewEngine(repo, zap.NewNop())
	if err := eng.IndexRepository(); err != nil {
		fatal("index %s: %v", repo, err)
	}

	paths := make([]string, 0, len(eng.Files))
	for p := range eng.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		fc := eng.Files[p]
		fmt.Printf("%s  [%s]  %d symbols", eng.Rel(p), fc.Language, len(fc.Symbols))
		if len(fc.Tests) > 0 {
			fmt.Printf("  tests: %v", fc.Tests)
		}
		fmt.Println()
	}
	fmt.Printf("\n%d files indexed", len(eng.Files))
	if len(eng.ConfigFiles) > 0 {
		fmt.Printf(", %d config files", len(eng.ConfigFiles))
	}
	if len(eng.Warnings) > 0 {
		fmt.Printf(", %d warnings", len(eng.Warnings))
	}
	fmt.Println()
	for _, w := range eng.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if snapshotPath != "" {
		if err := eng.SaveSnapshot(snapshotPath); err != nil {
			fatal("save snapshot: %v", err)
		}
		fmt.Printf("snapshot written to %s\n", snapshotPath)
	}
}
