package functions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/husmancristian/geaman-engine/pkg/values"
)

// ScriptFunc is a user function written as an expr-lang expression.
type ScriptFunc struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Body   string   `yaml:"body"`
}

type scriptFile struct {
	Functions []ScriptFunc `yaml:"functions"`
}

// LoadScript parses a YAML document of the form `functions: [{name, params, body}]` and
// compiles every body.
func LoadScript(data []byte) (map[string]Func, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse function script: %w", err)
	}
	out := make(map[string]Func, len(file.Functions))
	for _, sf := range file.Functions {
		fn, err := sf.Compile()
		if err != nil {
			return nil, err
		}
		out[sf.Name] = fn
	}
	return out, nil
}

// LoadScriptDir registers every *.yaml / *.yml script under dir, in file name order.
func (r *Registry) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read function dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		funcs, err := LoadScript(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for fname, fn := range funcs {
			if err := r.Register(fname, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile turns the script into a Func. Arguments bind to params by position, keyword
// arguments by name; `log(...)` inside the body writes to the step log.
func (s ScriptFunc) Compile() (Func, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return nil, fmt.Errorf("function script without a name")
	}
	if strings.TrimSpace(s.Body) == "" {
		return nil, fmt.Errorf("function %s has an empty body", name)
	}

	proto := scriptEnv(nil, s.Params, nil, nil)
	program, err := expr.Compile(s.Body, expr.Env(proto), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile function %s: %w", name, err)
	}

	params := append([]string(nil), s.Params...)
	return func(call *Call, args []any, kwargs map[string]any) (any, error) {
		if len(args) > len(params) {
			return nil, fmt.Errorf("expected at most %d arguments, got %d", len(params), len(args))
		}
		env := scriptEnv(call, params, args, kwargs)
		return run(program, env)
	}, nil
}

func run(program *vm.Program, env map[string]any) (any, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return out, nil
}

func scriptEnv(call *Call, params []string, args []any, kwargs map[string]any) map[string]any {
	env := make(map[string]any, len(params)+len(kwargs)+1)
	for i, p := range params {
		if i < len(args) {
			env[p] = args[i]
		} else {
			env[p] = nil
		}
	}
	for k, v := range kwargs {
		env[k] = v
	}
	env["log"] = func(parts ...any) any {
		if call != nil {
			words := make([]string, len(parts))
			for i, p := range parts {
				words[i] = values.Stringify(p)
			}
			call.Logf("%s", strings.Join(words, " "))
		}
		return nil
	}
	return env
}
