package queryclass

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Synonyms maps a lowercase abbreviation to its long forms. The first long
// form is the primary one used for expansion.
type Synonyms map[string][]string

// DefaultSynonyms covers abbreviations common in platform documentation.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"auth":   {"authentication", "authorization"},
		"authn":  {"authentication"},
		"authz":  {"authorization"},
		"cfg":    {"configuration"},
		"conf":   {"configuration"},
		"config": {"configuration"},
		"env":    {"environment"},
		"db":     {"database"},
		"k8s":    {"kubernetes"},
		"repo":   {"repository"},
		"deps":   {"dependencies"},
		"jwt":    {"json web token"},
		"sso":    {"single sign-on"},
		"mfa":    {"multi-factor authentication"},
		"2fa":    {"two-factor authentication"},
		"rbac":   {"role-based access control"},
		"ttl":    {"time to live"},
		"tls":    {"transport layer security"},
		"ci":     {"continuous integration"},
		"cd":     {"continuous deployment"},
		"cli":    {"command line interface"},
		"sdk":    {"software development kit"},
		"dns":    {"domain name system"},
		"ui":     {"user interface"},
		"api":    {"application programming interface"},
		"msg":    {"message"},
		"perf":   {"performance"},
		"docs":   {"documentation"},
	}
}

type synonymsFile struct {
	Synonyms map[string][]string `yaml:"synonyms"`
}

// LoadSynonymsFile reads a YAML dictionary and merges it over the defaults.
// Entries with an empty list remove the default mapping.
func LoadSynonymsFile(path string) (Synonyms, error) {
	out := DefaultSynonyms()
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms file: %w", err)
	}
	var file synonymsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse synonyms file: %w", err)
	}
	for abbr, forms := range file.Synonyms {
		key := strings.ToLower(strings.TrimSpace(abbr))
		if key == "" {
			continue
		}
		if len(forms) == 0 {
			delete(out, key)
			continue
		}
		out[key] = forms
	}
	return out, nil
}

func (s Synonyms) primary(abbr string) (string, bool) {
	forms, ok := s[abbr]
	if !ok || len(forms) == 0 {
		return "", false
	}
	return forms[0], true
}
