// Package config loads runtime and host settings from YAML or JSON.
//
// A Config wraps the decoded document as a map. Typed accessors return a
// caller-supplied default when a key is missing or holds the wrong type,
// so partial files never fail to load:
//
//	cfg, err := config.FromFile("generative.yaml")
//	if err != nil {
//	    return err
//	}
//	turns := cfg.Int("settle_turns", 1)
//
// Whole documents can be decoded into structs with Decode (field names
// match keys case-insensitively, or via `mapstructure` tags). Unknown keys
// are an error:
//
//	var host struct {
//	    Verbose bool   `mapstructure:"verbose"`
//	    Format  string `mapstructure:"format"`
//	}
//	if err := cfg.Decode(&host); err != nil {
//	    return err
//	}
package config
