package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ResearchDigest/internal/domain"
)

type keywordEntry struct {
	Weight *float64 `yaml:"weight"`
	Terms  []string `yaml:"terms"`
}

// LoadKeywords reads a keywords file laid out as `name: {weight, terms}`.
// Categories keep the order they appear in the file; weight defaults to 1.
func LoadKeywords(path string) ([]CategoryRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigurationError("scoring.keywords_file", "cannot read %s: %v", path, err)
	}
	rules, err := ParseKeywords(raw)
	if err != nil {
		return nil, domain.NewConfigurationError("scoring.keywords_file", "%s: %v", path, err)
	}
	return rules, nil
}

// ParseKeywords decodes the keywords mapping, preserving key order.
func ParseKeywords(raw []byte) ([]CategoryRule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty keywords document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of category names", root.Line)
	}

	rules := make([]CategoryRule, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var entry keywordEntry
		if err := value.Decode(&entry); err != nil {
			return nil, fmt.Errorf("category %q: %w", key.Value, err)
		}
		weight := 1.0
		if entry.Weight != nil {
			weight = *entry.Weight
		}
		rules = append(rules, CategoryRule{Name: key.Value, Weight: weight, Terms: entry.Terms})
	}
	return rules, nil
}
