package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Configuration keys. Environment variables use the SQUEEZEDET_ prefix with
// dashes replaced by underscores (e.g. SQUEEZEDET_ANCHORS_PER_GRID).
const (
	KeyAnchorsPerGrid = "anchors-per-grid"
	KeyBBoxAttrs      = "bbox-attrs"
	KeyClasses        = "classes"
	KeyScoreRule      = "score-rule"
	KeyWorkers        = "workers"

	EnvPrefix = "SQUEEZEDET"
)

// NewViper returns a viper instance with the defaults of Default, environment
// lookup and, when path is non-empty, the given config file (YAML, JSON or
// TOML by extension) merged in.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()

	def := Default()
	v.SetDefault(KeyAnchorsPerGrid, def.AnchorsPerGrid)
	v.SetDefault(KeyBBoxAttrs, def.NumBBoxAttrs)
	v.SetDefault(KeyClasses, def.NumClasses)
	v.SetDefault(KeyScoreRule, def.ScoreRule.String())
	v.SetDefault(KeyWorkers, 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	rule, err := ParseScoreRule(v.GetString(KeyScoreRule))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AnchorsPerGrid: v.GetInt(KeyAnchorsPerGrid),
		NumBBoxAttrs:   v.GetInt(KeyBBoxAttrs),
		NumClasses:     v.GetInt(KeyClasses),
		ScoreRule:      rule,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load is NewViper followed by FromViper.
func Load(path string) (Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return Config{}, err
	}
	return FromViper(v)
}
