// Package symbols loads the subscription list from a YAML file.
package symbols

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketsync/internal/models"
)

// Subscription is one desired (symbol, kinds) pairing from the config.
type Subscription struct {
	Symbol string   `yaml:"symbol"`
	Kinds  []string `yaml:"kinds"`
}

// File is the YAML configuration structure.
type File struct {
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Entry is one validated (symbol, kind) channel to subscribe.
type Entry struct {
	Symbol string
	Kind   models.EventKind
}

// DefaultEntries is used when no config file is present.
var DefaultEntries = []Entry{
	{Symbol: "BTCUSD", Kind: models.KindTrade},
	{Symbol: "BTCUSD", Kind: models.KindBook},
	{Symbol: "BTCUSD", Kind: models.KindTicker},
	{Symbol: "ETHUSD", Kind: models.KindTrade},
	{Symbol: "ETHUSD", Kind: models.KindTicker},
}

// LoadFromYAML loads and validates the subscription list, preserving file
// order since subscriptions replay in registration order.
func LoadFromYAML(filePath string) ([]Entry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse symbols YAML: %w", err)
	}

	var entries []Entry
	for _, sub := range file.Subscriptions {
		if sub.Symbol == "" {
			return nil, fmt.Errorf("subscription with empty symbol")
		}
		for _, raw := range sub.Kinds {
			kind, err := models.ParseKind(raw)
			if err != nil {
				return nil, fmt.Errorf("symbol %s: %w", sub.Symbol, err)
			}
			entries = append(entries, Entry{Symbol: sub.Symbol, Kind: kind})
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no subscriptions found in config file")
	}
	return entries, nil
}

// LoadWithFallback tries to load from YAML, falls back to defaults.
func LoadWithFallback(filePath string) []Entry {
	entries, err := LoadFromYAML(filePath)
	if err != nil {
		return DefaultEntries
	}
	return entries
}
