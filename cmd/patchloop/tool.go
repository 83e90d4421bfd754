package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vsavkov/patchloop/internal/policy"
	"github.com/vsavkov/patchloop/internal/sandbox"
	"github.com/vsavkov/patchloop/internal/tools"
)

// toolCmd exposes the builtin tool registry to external collaborators:
// `tool list` prints the definitions, `tool run` invokes one tool with
// JSON parameters and prints its structured result.
func toolCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		toolList(args[1:])
	case "run":
		toolRun(args[1:])
	default:
		usage()
		os.Exit(1)
	}
}

func toolList(args []string) {
	repo := "."
	var rulesPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			repo = flagValue(args, &i)
		case "--rules":
			rulesPath = flagValue(args, &i)
		default:
			fatal("unknown arg: %s", args[i])
		}
	}

	reg := buildRegistry(repo, rulesPath)
	out, err := json.MarshalIndent(reg.Definitions(), "", "  ")
	if err != nil {
		fatal("encode definitions: %v", err)
	}
	fmt.Println(string(out))
}

func toolRun(args []string) {
	repo := "."
	var name, params, rulesPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			repo = flagValue(args, &i)
		case "--rules":
			rulesPath = flagValue(args, &i)
		case "--params":
			params = flagValue(args, &i)
		default:
			if name == "" && len(args[i]) > 0 && args[i][0] != '-' {
				name = args[i]
				continue
			}
			fatal("unknown arg: %s", args[i])
		}
	}
	if name == "" {
		fatal("tool run requires a tool name")
	}
	if params == "" {
		params = "{}"
	}

	reg := buildRegistry(repo, rulesPath)
	res := reg.Invoke(context.Background(), name, json.RawMessage(params))
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fatal("encode result: %v", err)
	}
	fmt.Println(string(out))
	if res.Status != tools.StatusSuccess {
		os.Exit(2)
	}
}

func buildRegistry(repo, rulesPath string) *tools.Registry {
	cfg := policy.DefaultConfig()
	if rulesPath != "" {
		var err error
		if cfg, err = policy.LoadConfig(rulesPath); err != nil {
			fatal("load rules %s: %v", rulesPath, err)
		}
	}
	pol, err := policy.NewEngine(cfg)
	if err != nil {
		fatal("policy: %v", err)
	}

	log := newLogger(false)
	reg, err := tools.NewBuiltinRegistry(repo, sandbox.NewLocal(log), pol, log)
	if err != nil {
		fatal("build tool registry: %v", err)
	}
	return reg
}
