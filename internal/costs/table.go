package costs

import (
	"errors"
	"fmt"
	"strings"

	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	"github.com/spf13/viper"
)

var ErrUnknownTask = errors.New("unknown_task_cost")

// Entry prices one (provider, model, kind) combination in credits.
type Entry struct {
	ProviderID string
	ModelID    string
	Kind       generationdomain.TaskKind
	Credits    int64
}

// Table is the read-only task cost lookup. It is loaded once at startup and
// consulted at plan time only, so an in-flight run never sees a price change.
type Table struct {
	entries map[string]int64
}

// NewTable builds a table from explicit entries.
func NewTable(entries []Entry) (*Table, error) {
	table := &Table{entries: make(map[string]int64, len(entries))}
	for _, entry := range entries {
		if entry.Credits <= 0 {
			return nil, fmt.Errorf("cost for %s/%s/%s must be positive", entry.ProviderID, entry.ModelID, entry.Kind)
		}
		if !entry.Kind.Valid() {
			return nil, fmt.Errorf("unknown task kind %q", entry.Kind)
		}
		table.entries[key(entry.ProviderID, entry.ModelID, entry.Kind)] = entry.Credits
	}
	return table, nil
}

// Cost resolves the credit price of one task.
func (t *Table) Cost(providerID, modelID string, kind generationdomain.TaskKind) (int64, error) {
	if credits, ok := t.entries[key(providerID, modelID, kind)]; ok {
		return credits, nil
	}
	// Model-agnostic fallback lets operators price a provider wholesale.
	if credits, ok := t.entries[key(providerID, "*", kind)]; ok {
		return credits, nil
	}
	return 0, ErrUnknownTask
}

func key(providerID, modelID string, kind generationdomain.TaskKind) string {
	return strings.ToLower(strings.TrimSpace(providerID)) + "|" +
		strings.ToLower(strings.TrimSpace(modelID)) + "|" +
		string(kind)
}

// Load reads the cost table from a YAML file. An empty path loads the
// compiled-in defaults.
//
// File shape:
//
//	costs:
//	  - provider: openai
//	    model: gpt-4o-mini
//	    kind: subject_line
//	    credits: 1
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return NewTable(defaultEntries())
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var file struct {
		Costs []struct {
			Provider string `mapstructure:"provider"`
			Model    string `mapstructure:"model"`
			Kind     string `mapstructure:"kind"`
			Credits  int64  `mapstructure:"credits"`
		} `mapstructure:"costs"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(file.Costs))
	for _, row := range file.Costs {
		entries = append(entries, Entry{
			ProviderID: row.Provider,
			ModelID:    row.Model,
			Kind:       generationdomain.TaskKind(row.Kind),
			Credits:    row.Credits,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("cost table %s has no entries", path)
	}
	return NewTable(entries)
}

func defaultEntries() []Entry {
	text := []generationdomain.TaskKind{
		generationdomain.TaskKindSubjectLine,
		generationdomain.TaskKindPreviewText,
		generationdomain.TaskKindMainHeadline,
		generationdomain.TaskKindMainDescription,
		generationdomain.TaskKindProductCopy,
	}
	entries := make([]Entry, 0, len(text)+4)
	for _, kind := range text {
		entries = append(entries, Entry{ProviderID: "openai", ModelID: "*", Kind: kind, Credits: 1})
	}
	entries = append(entries,
		Entry{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainImage, Credits: 5},
		Entry{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindProductImage, Credits: 5},
		Entry{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindMainImage, Credits: 4},
		Entry{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindProductImage, Credits: 4},
	)
	return entries
}
