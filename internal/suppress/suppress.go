package suppress

import (
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/config"
)

// FileName is the ignore file looked up in the working directory.
const FileName = ".pgokache-ignore.yml"

// inlineMarker in a statement's comment excludes it from recommendations.
const inlineMarker = "pgokache:ignore"

// Suppression is a single rule in the ignore file. Empty fields match
// anything; a rule with every field empty matches nothing.
type Suppression struct {
	Type    string `yaml:"type,omitempty"`
	Table   string `yaml:"table,omitempty"`
	Query   string `yaml:"query,omitempty"`
	QueryID string `yaml:"query_id,omitempty"`
	Reason  string `yaml:"reason,omitempty"`
}

// IgnoreFile is the structure of .pgokache-ignore.yml.
type IgnoreFile struct {
	Suppressions []Suppression `yaml:"suppressions"`
}

// Rules holds loaded suppression rules from all sources.
type Rules struct {
	ignoreFile IgnoreFile
	exclude    config.Exclude
}

// LoadRules loads suppression rules from .pgokache-ignore.yml in the given directory.
func LoadRules(dir string) (*Rules, error) {
	r := &Rules{}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &r.ignoreFile); err != nil {
		return nil, err
	}
	return r, nil
}

// WithExclude adds the config exclude section.
func (r *Rules) WithExclude(ex config.Exclude) *Rules {
	r.exclude = ex
	return r
}

// IsSuppressed returns true if the candidate should be dropped.
func (r *Rules) IsSuppressed(c *advisor.Candidate) bool {
	if HasInlineIgnore(c.Query) {
		return true
	}

	for _, t := range r.exclude.Types {
		if strings.EqualFold(string(c.Type), t) {
			return true
		}
	}
	for _, p := range r.exclude.Queries {
		if c.Query != "" && matchPattern(p, c.Query) {
			return true
		}
	}
	for _, id := range r.exclude.QueryIDs {
		if c.QueryID != "" && id == c.QueryID {
			return true
		}
	}

	for _, s := range r.ignoreFile.Suppressions {
		if s.matches(c) {
			return true
		}
	}
	return false
}

func (s Suppression) matches(c *advisor.Candidate) bool {
	if s.Table == "" && s.Query == "" && s.QueryID == "" && s.Type == "" {
		return false
	}
	if s.Type != "" && !strings.EqualFold(s.Type, string(c.Type)) {
		return false
	}
	if s.Table != "" && (c.Table == "" || !matchPattern(s.Table, c.Table)) {
		return false
	}
	if s.Query != "" && (c.Query == "" || !matchPattern(s.Query, c.Query)) {
		return false
	}
	if s.QueryID != "" && s.QueryID != c.QueryID {
		return false
	}
	return true
}

// Filter removes suppressed candidates and returns the remaining ones.
// Returns the filtered list and the number of suppressed candidates.
func (r *Rules) Filter(cands []advisor.Candidate) ([]advisor.Candidate, int) {
	var filtered []advisor.Candidate
	suppressed := 0
	for i := range cands {
		if r.IsSuppressed(&cands[i]) {
			suppressed++
		} else {
			filtered = append(filtered, cands[i])
		}
	}
	return filtered, suppressed
}

// matchPattern matches text case-insensitively against a pattern that
// supports a trailing wildcard.
func matchPattern(pattern, text string) bool {
	pattern = strings.ToLower(pattern)
	text = strings.ToLower(text)

	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(text, prefix)
	}
	return pattern == text
}

// HasInlineIgnore returns true if the statement carries a pgokache:ignore comment.
func HasInlineIgnore(query string) bool {
	return strings.Contains(query, inlineMarker)
}
