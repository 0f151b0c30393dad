package pipeline

import (
	"regexp"
	"strconv"
)

// refPattern is the whole grammar: an identifier with an optional numeric
// index, addressed against the single upstream node.
var refPattern = regexp.MustCompile(`^\{\{sourceNode\.([A-Za-z_][A-Za-z0-9_]*)(?:\[([0-9]+)\])?\}\}$`)

// IsReference reports whether s is a {{sourceNode.*}} token.
func IsReference(s string) bool { return refPattern.MatchString(s) }

// Resolve translates a {{sourceNode.<key>}} or {{sourceNode.<key>[<i>]}}
// token into a concrete value from the source node.
//
// Precedence is fixed: runtime outputs beat statically configured lists,
// which beat static scalars. A key that only matches a declared step output
// yields ErrPendingOutput so callers can tell "run upstream first" apart
// from a broken reference. Tokens that do not match the grammar at all yield
// ErrNotReference.
func Resolve(token string, source *Node, runtime map[string]string) (string, error) {
	m := refPattern.FindStringSubmatch(token)
	if m == nil {
		return "", ErrNotReference
	}
	if source == nil || source.Data.Config == nil {
		return "", ErrUnresolved
	}
	key, idx := m[1], m[2]

	// Runtime outputs reflect what execution actually produced and win over
	// anything configured statically. Indexed tokens match a literal
	// "key[i]" entry.
	if runtime != nil {
		lookup := key
		if idx != "" {
			lookup = key + "[" + idx + "]"
		}
		if v, ok := runtime[lookup]; ok {
			return v, nil
		}
	}

	if idx != "" {
		i, err := strconv.Atoi(idx)
		if err == nil {
			if list, ok := source.Data.Config.LookupList(key); ok && i < len(list) {
				return list[i], nil
			}
		}
	} else {
		if v, ok := rootLookup(source, key); ok {
			return v, nil
		}
		if v, ok := source.Data.Config.Lookup(key); ok {
			return v, nil
		}
	}

	// Declared but not produced yet: only preprocessing steps declare
	// outputs ahead of execution.
	if cfg, ok := source.Data.Config.(*PreprocessingConfig); ok {
		for _, name := range cfg.DeclaredOutputs() {
			if name == key {
				return "", ErrPendingOutput
			}
		}
	}

	return "", ErrUnresolved
}

// rootLookup checks node-level data fields before the config variant.
func rootLookup(n *Node, key string) (string, bool) {
	switch key {
	case "label":
		return nonEmpty(n.Data.Label)
	case "description":
		return nonEmpty(n.Data.Description)
	case "status":
		return nonEmpty(string(n.Data.Status))
	case "statusMessage":
		return nonEmpty(n.Data.StatusMessage)
	}
	return "", false
}
