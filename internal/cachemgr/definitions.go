package cachemgr

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const aggregationsEnv = "CACHE_AGGREGATIONS_YAML"

//go:embed aggregations.yaml
var aggregationsFS embed.FS

// Definition is one registered aggregation: what to compute, where to store
// it and for how long it stays valid.
type Definition struct {
	Key     string         `yaml:"key"`
	Kind    string         `yaml:"kind"`
	TTL     time.Duration  `yaml:"ttl"`
	Enabled *bool          `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

func (d Definition) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// IntParam reads an integer parameter, falling back to def.
func (d Definition) IntParam(name string, def int) int {
	switch v := d.Params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

type yamlAggregations struct {
	Version      int          `yaml:"version"`
	Aggregations []Definition `yaml:"aggregations"`
}

var fallbackDefinitions = []Definition{
	{Key: KindCourseCompletion, Kind: KindCourseCompletion, TTL: time.Hour},
	{Key: KindTimeSpentByCourse, Kind: KindTimeSpentByCourse, TTL: time.Hour},
	{Key: KindScormOverview, Kind: KindScormOverview, TTL: 6 * time.Hour},
	{Key: KindActiveLearners, Kind: KindActiveLearners, TTL: 30 * time.Minute},
}

// LoadDefinitions reads the aggregation registry from CACHE_AGGREGATIONS_YAML
// when set, else from the embedded file.
func LoadDefinitions() ([]Definition, error) {
	data, err := readAggregations()
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(data)
}

// DefaultDefinitions is LoadDefinitions with the built-in list as fallback.
func DefaultDefinitions() ([]Definition, error) {
	defs, err := LoadDefinitions()
	if err != nil {
		out := make([]Definition, len(fallbackDefinitions))
		copy(out, fallbackDefinitions)
		return out, err
	}
	return defs, nil
}

func ParseDefinitions(data []byte) ([]Definition, error) {
	var spec yamlAggregations
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if len(spec.Aggregations) == 0 {
		return nil, errors.New("no aggregations defined")
	}
	seen := map[string]bool{}
	out := make([]Definition, 0, len(spec.Aggregations))
	for _, d := range spec.Aggregations {
		d.Key = strings.TrimSpace(d.Key)
		d.Kind = strings.TrimSpace(d.Kind)
		if d.Key == "" {
			return nil, errors.New("aggregation key is required")
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("duplicate aggregation key: %s", d.Key)
		}
		seen[d.Key] = true
		if _, ok := kinds[d.Kind]; !ok {
			return nil, fmt.Errorf("aggregation %s: unknown kind %q", d.Key, d.Kind)
		}
		if d.TTL <= 0 {
			return nil, fmt.Errorf("aggregation %s: ttl must be positive", d.Key)
		}
		out = append(out, d)
	}
	return out, nil
}

func readAggregations() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(aggregationsEnv)); path != "" {
		return os.ReadFile(path)
	}
	return aggregationsFS.ReadFile("aggregations.yaml")
}
