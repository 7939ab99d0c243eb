package main

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"graphversioner/pkg/domain"
)

// parseProperties turns key=value pairs into a property set. Values are
// read as YAML scalars so 3, 2.5 and true keep their types; anything else is
// a string.
func parseProperties(pairs []string) (domain.PropertySet, error) {
	props := make(domain.PropertySet, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageError{fmt.Errorf("property %q: want key=value", pair)}
		}
		value, err := parseScalar(raw)
		if err != nil {
			return nil, usageError{fmt.Errorf("property %s: %w", key, err)}
		}
		props[key] = value
	}
	return props, nil
}

func parseScalar(raw string) (domain.Value, error) {
	if raw == "" {
		return domain.String(""), nil
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
		return domain.String(raw), nil
	}
	switch decoded.(type) {
	case int, float64, bool, string:
		return domain.ValueOf(decoded)
	default:
		return domain.String(raw), nil
	}
}

func parseEntityID(arg string) (domain.NodeID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, usageError{fmt.Errorf("invalid entity id %q", arg)}
	}
	return domain.NodeID(id), nil
}

func parseLabels(raw []string) []domain.Label {
	labels := make([]domain.Label, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, domain.Label(l))
		}
	}
	return labels
}
