// Command taskworker is the isolation boundary for python job_type tasks.
// It is spawned as a subprocess by the execution dispatcher, exactly the
// way the source system's python_job_wrapper.py is spawned by the Python
// scheduler: argv[1] names the target function ("module:function"),
// argv[2] is a base64-encoded JSON payload carrying "args" and "kwargs".
// The target is resolved from the compile-time registry (import for side
// effects below) rather than importlib, prints the function's return value
// to stdout if non-nil, and exits 0 on success or 1 on error with the error
// printed to stderr.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vektorhq/taskd/internal/registry"

	_ "github.com/vektorhq/taskd/internal/registry/tasks"
)

type payload struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: taskworker <function_path> <base64_json_payload>")
		os.Exit(1)
	}

	target := os.Args[1]
	raw, err := base64.StdEncoding.DecodeString(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode payload: %v\n", err)
		os.Exit(1)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal payload: %v\n", err)
		os.Exit(1)
	}

	fn, err := registry.Lookup(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	result, err := fn(p.Args, p.Kwargs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if result != nil {
		fmt.Println(result)
	}
}
