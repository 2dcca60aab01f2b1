package gguf

import "strings"

// fallbackPrefixes is the fixed list of well-known architecture prefixes
// consulted as a last resort when a key isn't found under the requested
// architecture's own namespace or any wildcard-suffix match.
var fallbackPrefixes = []string{"llama", "qwen", "mistral", "phi", "gemma"}

// FallbackPrefixes returns a copy of the fixed last-resort prefix list
// Lookup consults. internal/model's "did you mean" suggestions use their
// own tag list, not this one.
func FallbackPrefixes() []string {
	out := make([]string, len(fallbackPrefixes))
	copy(out, fallbackPrefixes)
	return out
}

// Lookup resolves a metadata key under three rules, in order:
//  1. "<arch>.<suffix>"
//  2. any key of the form "*.<suffix>" (first match by sorted key order,
//     for determinism)
//  3. "<fallback>.<suffix>" for each of the fixed fallback prefixes
func (c *Content) Lookup(arch, suffix string) (Value, bool) {
	if arch != "" {
		if v, ok := c.Metadata[arch+"."+suffix]; ok {
			return v, true
		}
	}

	suf := "." + suffix
	var bestKey string
	var best Value
	found := false
	for k, v := range c.Metadata {
		if strings.HasSuffix(k, suf) {
			if !found || k < bestKey {
				bestKey, best, found = k, v, true
			}
		}
	}
	if found {
		return best, true
	}

	for _, prefix := range fallbackPrefixes {
		if v, ok := c.Metadata[prefix+"."+suffix]; ok {
			return v, true
		}
	}

	return Value{}, false
}

// String resolves a string-valued key, returning defaultVal (if any) when
// absent or mistyped.
func (c *Content) String(arch, suffix string, defaultVal ...string) string {
	if v, ok := c.Lookup(arch, suffix); ok {
		if s, ok := v.Scalar.(string); ok {
			return s
		}
	}
	if len(defaultVal) > 0 {
		return defaultVal[0]
	}
	return ""
}

// Uint resolves an integer-valued key narrowed to an unsigned machine
// word, returning defaultVal (if any) when absent or mistyped.
func (c *Content) Uint(arch, suffix string, defaultVal ...uint64) (uint64, bool) {
	if v, ok := c.Lookup(arch, suffix); ok {
		if u, ok := asUint(v); ok {
			return u, true
		}
	}
	if len(defaultVal) > 0 {
		return defaultVal[0], true
	}
	return 0, false
}

// Float resolves a float-valued key, returning defaultVal (if any) when
// absent or mistyped.
func (c *Content) Float(arch, suffix string, defaultVal ...float32) float32 {
	if v, ok := c.Lookup(arch, suffix); ok {
		switch x := v.Scalar.(type) {
		case float32:
			return x
		case float64:
			return float32(x)
		}
	}
	if len(defaultVal) > 0 {
		return defaultVal[0]
	}
	return 0
}

// Bool resolves a bool-valued key, returning defaultVal when absent or
// mistyped.
func (c *Content) Bool(arch, suffix string, defaultVal bool) bool {
	if v, ok := c.Lookup(arch, suffix); ok {
		if b, ok := v.Scalar.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// Strings resolves an array-of-string valued key into a plain slice.
func (c *Content) Strings(arch, suffix string) []string {
	v, ok := c.Lookup(arch, suffix)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v.Array))
	for _, e := range v.Array {
		if s, ok := e.Scalar.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Uints resolves an array-of-integer valued key into a plain slice of
// uint32, the shape ollama's own tokenizer vocabulary tables use for
// token-type and merge-rank arrays.
func (c *Content) Uints(arch, suffix string) []uint32 {
	v, ok := c.Lookup(arch, suffix)
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(v.Array))
	for _, e := range v.Array {
		if u, ok := asUint(e); ok {
			out = append(out, uint32(u))
		}
	}
	return out
}
