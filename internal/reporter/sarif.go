package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/ppiankov/pgokache/internal/model"
)

// SARIF 2.1.0 types, the subset needed for valid output.

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaults `json:"defaultConfiguration"`
}

type sarifRuleDefaults struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type sarifLocation struct {
	LogicalLocations []sarifLogicalLocation `json:"logicalLocations,omitempty"`
}

type sarifLogicalLocation struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fullyQualifiedName"`
	Kind               string `json:"kind"`
}

var ruleDescriptions = map[model.RecommendationType]string{
	model.TypeMissingIndex: "Statement reads many blocks per returned row; an index would avoid the scan",
	model.TypeWorkMem:      "Statement spills sorts or hashes to temporary files",
	model.TypeReadReplica:  "Read-only statements dominate execution time",
}

var confidenceToLevel = map[model.Confidence]string{
	model.ConfidenceHigh:   "error",
	model.ConfidenceMedium: "warning",
	model.ConfidenceLow:    "note",
}

func ruleID(t model.RecommendationType) string {
	return "pgokache/" + string(t)
}

func writeSARIF(w io.Writer, report *Report) error {
	ruleSet := make(map[model.RecommendationType]bool)
	for _, r := range report.Recommendations {
		ruleSet[r.Type] = true
	}
	types := make([]model.RecommendationType, 0, len(ruleSet))
	for t := range ruleSet {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	rules := make([]sarifRule, 0, len(types))
	for _, t := range types {
		desc := ruleDescriptions[t]
		if desc == "" {
			desc = string(t)
		}
		rules = append(rules, sarifRule{
			ID:               ruleID(t),
			ShortDescription: sarifMessage{Text: desc},
			DefaultConfig:    sarifRuleDefaults{Level: "warning"},
		})
	}

	results := make([]sarifResult, 0, len(report.Recommendations))
	for _, r := range report.Recommendations {
		level := confidenceToLevel[r.Confidence]
		if level == "" {
			level = "note"
		}

		name, fqn, kind := r.InstanceID, r.InstanceID, "database/instance"
		if r.QueryID != "" {
			name, fqn, kind = r.QueryID, r.InstanceID+"/"+r.QueryID, "database/statement"
		}

		text := r.Title + ". " + r.Details
		if r.SQL != "" {
			text += " Suggested: " + r.SQL
		}

		results = append(results, sarifResult{
			RuleID:  ruleID(r.Type),
			Level:   level,
			Message: sarifMessage{Text: text},
			Locations: []sarifLocation{{
				LogicalLocations: []sarifLogicalLocation{{
					Name:               name,
					FullyQualifiedName: fqn,
					Kind:               kind,
				}},
			}},
			PartialFingerprints: map[string]string{"pgokache/v1": r.Fingerprint},
			Properties: map[string]any{
				"id":     r.ID,
				"score":  r.Score,
				"status": r.Status,
			},
		})
	}

	log := sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "pgokache",
				Version:        report.Metadata.Version,
				InformationURI: "https://github.com/ppiankov/pgokache",
				Rules:          rules,
			}},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		return fmt.Errorf("encode SARIF: %w", err)
	}
	return nil
}
