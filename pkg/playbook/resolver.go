package playbook

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{ field }} references inside config strings.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolver resolves {{variable}} and {{stepId.field}} placeholders against
// an execution context. Handlers only ever see fully resolved config.
type Resolver struct {
	ctx *Context
}

// NewResolver creates a resolver over the given execution context.
func NewResolver(ctx *Context) *Resolver {
	return &Resolver{ctx: ctx}
}

// Value looks up a reference. Flat context variables win on an exact key
// match; otherwise the reference is split on the first dot into a step ID
// and a data subfield. Without a subfield the step's whole data map is
// returned. A miss returns (nil, false), never an error: conditions on
// missing values evaluate false and interpolation leaves a marker.
func (r *Resolver) Value(field string) (interface{}, bool) {
	if v, ok := r.ctx.Variable(field); ok {
		return v, true
	}

	stepID, subfield := field, ""
	if i := strings.Index(field, "."); i >= 0 {
		stepID, subfield = field[:i], field[i+1:]
	}

	result, ok := r.ctx.Results().Get(stepID)
	if !ok || result.Data == nil {
		return nil, false
	}
	if subfield == "" {
		return result.Data, true
	}
	v, ok := result.Data[subfield]
	return v, ok
}

// ResolveString interpolates every placeholder in a string. Unresolvable
// placeholders are left verbatim so their absence stays observable
// downstream instead of vanishing into an empty string.
func (r *Resolver) ResolveString(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		field := strings.TrimSpace(match[2 : len(match)-2])
		v, ok := r.Value(field)
		if !ok {
			return match
		}
		return fmt.Sprint(v)
	})
}

// Resolve recursively resolves placeholders in a config value. A string
// that is exactly one placeholder resolves to the referenced value itself,
// preserving its type; strings with surrounding text interpolate.
func (r *Resolver) Resolve(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if field, ok := pureRef(v); ok {
			if raw, found := r.Value(field); found {
				return raw
			}
			return v
		}
		return r.ResolveString(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = r.Resolve(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = r.Resolve(val)
		}
		return out
	default:
		return value
	}
}

// ResolveConfig resolves a whole step config map.
func (r *Resolver) ResolveConfig(config map[string]interface{}) map[string]interface{} {
	if config == nil {
		return nil
	}
	return r.Resolve(config).(map[string]interface{})
}

// pureRef reports whether a string is exactly one placeholder, returning
// the reference inside it.
func pureRef(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	loc := placeholderPattern.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return strings.TrimSpace(trimmed[2 : len(trimmed)-2]), true
}
