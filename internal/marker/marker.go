package marker

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Category classifies what a test suite exercises.
type Category string

const (
	CategoryFunctional  Category = "Functional"
	CategoryPerformance Category = "Performance"
	CategoryStress      Category = "Stress"
	CategoryCommunity   Category = "Community"
	CategoryLonghaul    Category = "Longhaul"
)

// Categories lists the accepted categories.
var Categories = []Category{
	CategoryFunctional,
	CategoryPerformance,
	CategoryStress,
	CategoryCommunity,
	CategoryLonghaul,
}

// MaxPriority is the lowest priority a suite may declare (0 is highest).
const MaxPriority = 3

// ErrPositional is returned when a marker is given bare arguments instead
// of key=value pairs.
var ErrPositional = errors.New("marker cannot have positional arguments")

// Marker describes the test suite a report belongs to.
type Marker struct {
	Platform string         `json:"platform" yaml:"platform"`
	Category Category       `json:"category" yaml:"category"`
	Area     string         `json:"area" yaml:"area"`
	Priority int            `json:"priority" yaml:"priority"`
	Features []string       `json:"features" yaml:"features"`
	Extra    map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

var knownKeys = []string{"platform", "category", "area", "priority", "features"}

// Validate checks params against the marker schema. Missing features
// default to an empty list; unknown keys are kept in Extra.
func Validate(params map[string]any) (*Marker, error) {
	m := &Marker{Features: []string{}}
	var errs []error

	var err error
	if m.Platform, err = requireString(params, "platform"); err != nil {
		errs = append(errs, err)
	}
	if m.Area, err = requireString(params, "area"); err != nil {
		errs = append(errs, err)
	}

	if cat, err := requireString(params, "category"); err != nil {
		errs = append(errs, err)
	} else if !slices.Contains(Categories, Category(cat)) {
		errs = append(errs, fmt.Errorf("category %q is not one of %v", cat, Categories))
	} else {
		m.Category = Category(cat)
	}

	if raw, ok := params["priority"]; !ok {
		errs = append(errs, fmt.Errorf("missing key %q", "priority"))
	} else if p, err := toPriority(raw); err != nil {
		errs = append(errs, err)
	} else {
		m.Priority = p
	}

	if raw, ok := params["features"]; ok && raw != nil {
		if m.Features, err = toStrings(raw); err != nil {
			errs = append(errs, fmt.Errorf("features: %w", err))
		}
	}

	for k, v := range params {
		if slices.Contains(knownKeys, k) {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid test marker: %w", errors.Join(errs...))
	}
	return m, nil
}

func requireString(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing key %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return s, nil
}

func toPriority(raw any) (int, error) {
	var p int
	switch v := raw.(type) {
	case int:
		p = v
	case int64:
		p = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("priority must be an integer, got %v", v)
		}
		p = int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("priority must be an integer, got %q", v)
		}
		p = n
	default:
		return 0, fmt.Errorf("priority must be an integer, got %T", raw)
	}
	if p < 0 || p > MaxPriority {
		return 0, fmt.Errorf("priority %d out of range 0-%d", p, MaxPriority)
	}
	return p, nil
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", raw)
	}
}

// ParsePairs turns ["key=value", ...] into marker parameters. A bare word
// without '=' is a positional argument and is rejected.
func ParsePairs(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q", ErrPositional, pair)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}

// Merge returns base overlaid with override. Neither input is modified.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)
	return out
}

// String renders the marker for logs, e.g. "Azure/Functional/provisioning P0".
func (m *Marker) String() string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s P%d", m.Platform, m.Category, m.Area, m.Priority)
}
