package main

import (
	"fmt"
	"os"

	"github.com/vsavkov/patchloop/internal/policy"
)

// validatePolicyCmd checks a diff file against a rule set without running a
// task, exiting nonzero on violations.
func validatePolicyCmd(args []string) {
	var rulesPath, diffPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--rules":
			rulesPath = flagValue(args, &i)
		case "--diff":
			diffPath = flagValue(args, &i)
		default:
			fatal("unknown arg: %s", args[i])
		}
	}
	if diffPath == "" {
		usage()
		os.Exit(1)
	}

	cfg := policy.DefaultConfig()
	if rulesPath != "" {
		var err error
		if cfg, err = policy.LoadConfig(rulesPath); err != nil {
			fatal("load rules %s: %v", rulesPath, err)
		}
	}
	eng, err := policy.NewEngine(cfg)
	if err != nil {
		fatal("policy: %v", err)
	}

	b, err := os.ReadFile(diffPath)
	if err != nil {
		fatal("read diff %s: %v", diffPath, err)
	}
	res := eng.ValidateDiff(string(b))

	for _, v := range res.Violations {
		fmt.Printf("violation: %s\n", v)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if !res.IsValid {
		os.Exit(2)
	}
	fmt.Println("ok")
}
