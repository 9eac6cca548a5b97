package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ppiankov/pgokache/internal/model"
)

// Format controls report output format.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// ParseFormat validates a --format value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatSARIF:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json or sarif)", s)
}

// Metadata holds report context.
type Metadata struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	Command   string `json:"command"`
	Timestamp string `json:"timestamp"`
}

// Summary counts recommendations by confidence and status.
type Summary struct {
	Total   int `json:"total"`
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Pending int `json:"pending"`
}

// Report is the recommendations listing.
type Report struct {
	Metadata        Metadata               `json:"metadata"`
	Recommendations []model.Recommendation `json:"recommendations"`
	Summary         Summary                `json:"summary"`
}

// NewReport builds a report from ranked recommendations.
func NewReport(command string, recs []model.Recommendation, version string) Report {
	var summary Summary
	for _, r := range recs {
		summary.Total++
		switch r.Confidence {
		case model.ConfidenceHigh:
			summary.High++
		case model.ConfidenceMedium:
			summary.Medium++
		case model.ConfidenceLow:
			summary.Low++
		}
		if r.Status == model.StatusPending {
			summary.Pending++
		}
	}

	if recs == nil {
		recs = []model.Recommendation{}
	}

	return Report{
		Metadata: Metadata{
			Tool:      "pgokache",
			Version:   version,
			Command:   command,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Recommendations: recs,
		Summary:         summary,
	}
}

// Write outputs the report in the given format.
func Write(w io.Writer, report *Report, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatSARIF:
		return writeSARIF(w, report)
	default:
		return writeText(w, report, painter(isTTY(w)))
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeText(w io.Writer, report *Report, p painter) error {
	if report.Summary.Total == 0 {
		_, err := fmt.Fprintln(w, "No recommendations.")
		return err
	}

	for _, r := range report.Recommendations {
		label := p.paint(confidenceColor[r.Confidence], "["+strings.ToUpper(string(r.Confidence))+"]")
		target := r.InstanceID
		if r.QueryID != "" {
			target += " queryid " + r.QueryID
		}
		_, err := fmt.Fprintf(w, "%s %s %s (score %.1f, %s, %s)\n",
			label, r.Type, p.paint(colorBold, r.Title), r.Score, r.Status, target)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  id: %s\n  %s\n", r.ID, r.Details); err != nil {
			return err
		}
		if r.SQL != "" {
			if _, err := fmt.Fprintf(w, "  sql: %s\n", r.SQL); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\nSummary: %d recommendations (high=%d medium=%d low=%d pending=%d)\n",
		report.Summary.Total, report.Summary.High, report.Summary.Medium, report.Summary.Low, report.Summary.Pending)
	return err
}
