package template

import (
	"fmt"
	"strings"
)

func evalBlock(nodes []node, env map[string]any, out *strings.Builder) error {
	for _, n := range nodes {
		if err := evalNode(n, env, out); err != nil {
			return err
		}
	}
	return nil
}

func evalNode(n node, env map[string]any, out *strings.Builder) error {
	switch v := n.(type) {
	case textNode:
		out.WriteString(v.text)
		return nil

	case varNode:
		val, err := resolve(v.path, env)
		if err != nil {
			return err
		}
		fmt.Fprint(out, val)
		return nil

	case forNode:
		listVal, err := resolve(v.listPath, env)
		if err != nil {
			return err
		}
		list, ok := listVal.([]map[string]any)
		if !ok {
			return fmt.Errorf("template: %s is not a list", strings.Join(v.listPath, "."))
		}
		for _, item := range list {
			child := cloneEnv(env)
			child[v.iterVar] = item
			if err := evalBlock(v.body, child, out); err != nil {
				return err
			}
		}
		return nil

	case ifNode:
		val, err := resolve(v.condPath, env)
		truthy := isTruthy(val)
		if err != nil {
			// Missing path counts as falsy rather than aborting the
			// render, matching Jinja's undefined-is-falsy default.
			truthy = false
		}
		if v.negate {
			truthy = !truthy
		}
		if truthy {
			return evalBlock(v.thenBody, env, out)
		}
		return evalBlock(v.elseBody, env, out)

	default:
		return fmt.Errorf("template: unknown node type %T", n)
	}
}

func resolve(path []string, env map[string]any) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("template: empty path")
	}
	cur, ok := env[path[0]]
	if !ok {
		return nil, fmt.Errorf("template: undefined variable %q", path[0])
	}
	for _, field := range path[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("template: cannot access field %q on non-object", field)
		}
		cur, ok = m[field]
		if !ok {
			return nil, fmt.Errorf("template: undefined field %q", field)
		}
	}
	return cur, nil
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func cloneEnv(env map[string]any) map[string]any {
	out := make(map[string]any, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	return out
}
