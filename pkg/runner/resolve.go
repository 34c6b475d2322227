package runner

import (
	"fmt"

	"github.com/husmancristian/geaman-engine/pkg/expression"
	"github.com/husmancristian/geaman-engine/pkg/models"
	"github.com/husmancristian/geaman-engine/pkg/values"
)

func runHooks(hooks []string, env expression.Env) error {
	for _, h := range hooks {
		if _, err := expression.ResolveString(h, env); err != nil {
			return fmt.Errorf("%q: %w", h, err)
		}
	}
	return nil
}

func resolveRequest(in models.HTTPRequest, env expression.Env) (models.HTTPRequest, error) {
	out := in
	var err error
	for _, field := range []*string{&out.Service, &out.Method, &out.URL, &out.Body} {
		if *field, err = resolveText(*field, env); err != nil {
			return out, err
		}
	}
	if out.Headers, err = resolveMap(in.Headers, env); err != nil {
		return out, fmt.Errorf("headers: %w", err)
	}
	if out.Params, err = resolveMap(in.Params, env); err != nil {
		return out, fmt.Errorf("params: %w", err)
	}
	if out.Data, err = resolveMap(in.Data, env); err != nil {
		return out, fmt.Errorf("data: %w", err)
	}
	if in.JSON != nil {
		if out.JSON, err = expression.Resolve(in.JSON, env); err != nil {
			return out, fmt.Errorf("json: %w", err)
		}
	}
	return out, nil
}

func resolveUI(in models.UIAction, env expression.Env) (models.UIAction, error) {
	out := in
	var err error
	if out.Action, err = resolveText(in.Action, env); err != nil {
		return out, err
	}
	if out.Locator.Expression, err = resolveText(in.Locator.Expression, env); err != nil {
		return out, fmt.Errorf("locator: %w", err)
	}
	if in.Text != nil {
		if out.Text, err = expression.Resolve(in.Text, env); err != nil {
			return out, fmt.Errorf("text: %w", err)
		}
	}
	return out, nil
}

func resolveText(s string, env expression.Env) (string, error) {
	v, err := expression.ResolveString(s, env)
	if err != nil {
		return "", err
	}
	return values.Stringify(v), nil
}

func resolveMap(m map[string]any, env expression.Env) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	v, err := expression.Resolve(m, env)
	if err != nil {
		return nil, err
	}
	out, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resolved to %T", v)
	}
	return out, nil
}
