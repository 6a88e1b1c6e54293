// Package registry holds the compile-time mapping of task names to Go
// functions that the python job type dispatches into. The source system
// resolves "module.submod:function" strings at runtime via importlib; Go
// has no equivalent, so callable targets are registered here at startup
// instead and looked up by the same "module:function" string the
// JobDefinition or WorkflowStep already carries.
package registry

import "fmt"

// Func is a registered task function. args/kwargs mirror the JSON payload
// the dispatcher decodes from its wrapper subprocess invocation.
type Func func(args []any, kwargs map[string]any) (any, error)

var funcs = map[string]Func{}

// Register adds fn under name ("module:function" form), overwriting any
// previous registration. Intended to be called from package init()
// functions so the registry is fully populated before the scheduler starts.
func Register(name string, fn Func) {
	funcs[name] = fn
}

// Lookup resolves name to its registered function.
func Lookup(name string) (Func, error) {
	fn, ok := funcs[name]
	if !ok {
		return nil, fmt.Errorf("registry: no function registered for %q", name)
	}
	return fn, nil
}

// Names returns every registered function name, for diagnostics.
func Names() []string {
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	return names
}
