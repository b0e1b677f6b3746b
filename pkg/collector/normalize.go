package collector

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AliasRule folds resources whose lowercased label contains any of the Match
// substrings into one logical service.
type AliasRule struct {
	Service string   `yaml:"service"`
	Match   []string `yaml:"match"`
}

// Aliases normalizes provider resource labels into logical service names, so
// that near-duplicate line items (e.g. per-model LLM token SKUs) collapse
// into one aggregation key.
type Aliases struct {
	Rules []AliasRule `yaml:"rules"`
}

// DefaultAliases returns the built-in normalization rules.
func DefaultAliases() *Aliases {
	return &Aliases{
		Rules: []AliasRule{
			{Service: "Azure OpenAI", Match: []string{"gpt", "chatgpt", "davinci", "embedding", "ada"}},
			{Service: "Azure Speech-to-Text", Match: []string{"speech to text", "stt"}},
			{Service: "Azure Text-to-Speech", Match: []string{"text to speech", "tts", "neural"}},
		},
	}
}

// LoadAliases reads normalization rules from a YAML file.
func LoadAliases(path string) (*Aliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases file %s: %w", path, err)
	}

	var a Aliases
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse aliases file %s: %w", path, err)
	}
	if len(a.Rules) == 0 {
		return nil, fmt.Errorf("aliases file %s: no rules defined", path)
	}

	for _, rule := range a.Rules {
		if rule.Service == "" {
			return nil, fmt.Errorf("aliases file %s: rule with empty service name", path)
		}
	}

	return &a, nil
}

// Normalize maps a (service, resource) label pair to its logical service
// name. The first matching rule wins; without a match, the provider's
// service category is used as-is.
func (a *Aliases) Normalize(serviceName, serviceResource string) string {
	resource := strings.ToLower(serviceResource)
	for _, rule := range a.Rules {
		for _, m := range rule.Match {
			if strings.Contains(resource, m) {
				return rule.Service
			}
		}
	}
	return serviceName
}
