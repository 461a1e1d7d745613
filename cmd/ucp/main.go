// Package main provides the ucp CLI for inspecting, slicing and building
// universal checkpoints.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const version = "v0.1.0"

const usage = `Usage: ucp <command> [flags]

Commands:
  version    Show version
  inspect    List the state files of a parameter folder
  slice      Cut one tensor-parallel rank out of a parameter folder
  merge      Build a parameter state file from per-rank shards

Shape environment: NUM_EXPERTS, HIDDEN_SIZE, N_HEAD, N_HEAD_KV, HEAD_DIM
`

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	defer klog.Flush()

	if err := run(flag.Args(), os.Stdout); err != nil {
		klog.Flush()
		fmt.Fprintf(os.Stderr, "ucp: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "version":
		fmt.Fprintf(out, "ucp %s\n", version)
		return nil
	case "inspect":
		return runInspect(rest, out)
	case "slice":
		return runSlice(rest, out)
	case "merge":
		return runMerge(rest, out)
	default:
		return errors.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}
