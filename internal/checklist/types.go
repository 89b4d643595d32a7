package checklist

import "time"

// Requirement is one fixed, citable compliance obligation. Loaded once at
// startup and shared read-only between concurrent tasks.
type Requirement struct {
	ID               string   `json:"id"`
	Requirement      string   `json:"requirement"`
	RegulationSource string   `json:"regulation_source"`
	Category         string   `json:"category"`
	ExpectedFields   []string `json:"expected_fields"`
	CheckType        string   `json:"check_type"`
	SearchKeywords   []string `json:"search_keywords"`
	Severity         string   `json:"severity"`
}

// Checklist is a named, versioned, ordered collection of requirements.
type Checklist struct {
	ID                string        `json:"id"`
	Name              string        `json:"checklist_name"`
	Version           string        `json:"version,omitempty"`
	Regulations       []string      `json:"regulations,omitempty"`
	OutputReportTitle string        `json:"output_report_title,omitempty"`
	Requirements      []Requirement `json:"requirements"`
	Filename          string        `json:"-"`
	LoadedAt          time.Time     `json:"-"`
}
