// Package tasks registers the built-in python task functions available to
// JobDefinition and WorkflowStep entries with job_type "python". Importing
// this package for its side effects (blank import) is what makes its
// functions resolvable by name through the registry package.
package tasks

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vektorhq/taskd/internal/registry"
)

func init() {
	registry.Register("tasks:noop", noop)
	registry.Register("tasks:fail", fail)
	registry.Register("tasks:echo", echo)
	registry.Register("tasks:check_api_status", checkAPIStatus)
}

// noop returns nil without doing anything. Useful as a smoke-test target.
func noop(_ []any, _ map[string]any) (any, error) {
	return nil, nil
}

// fail always returns an error, exercised by retry-path tests and demos.
func fail(_ []any, kwargs map[string]any) (any, error) {
	if reason, ok := kwargs["reason"].(string); ok && reason != "" {
		return nil, errors.New(reason)
	}
	return nil, errors.New("tasks:fail always fails")
}

// echo joins its positional args into a single string and returns it,
// mirroring the kind of trivial function the wrapper's stdout capture is
// meant to surface back into an ExecutionLog.
func echo(args []any, _ map[string]any) (any, error) {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprint(a)
	}
	return out, nil
}

// checkAPIStatus performs a GET against kwargs["api_endpoint"] with a
// kwargs["timeout_seconds"] deadline (default 10s) and returns the response
// body, truncated to 4000 bytes. A non-2xx status or transport error fails
// the task, which is what turns it into a FAILED ExecutionLog upstream.
func checkAPIStatus(_ []any, kwargs map[string]any) (any, error) {
	endpoint, _ := kwargs["api_endpoint"].(string)
	if endpoint == "" {
		return nil, errors.New("tasks:check_api_status requires api_endpoint")
	}

	timeout := 10 * time.Second
	if t, ok := kwargs["timeout_seconds"].(float64); ok && t > 0 {
		timeout = time.Duration(t) * time.Second
	}

	client := http.Client{Timeout: timeout}

	resp, err := client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("check_api_status: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4000))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("check_api_status: %s returned %d", endpoint, resp.StatusCode)
	}

	return string(body), nil
}
