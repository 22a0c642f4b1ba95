package gate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/felixgeelhaar/cigate/internal/analysis"
	"github.com/felixgeelhaar/cigate/internal/version"
)

// SARIF represents a SARIF 2.1.0 report structure
type SARIF struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []SARIFRun `json:"runs"`
}

// SARIFRun represents a single run in a SARIF report
type SARIFRun struct {
	Tool    SARIFTool     `json:"tool"`
	Results []SARIFResult `json:"results"`
}

// SARIFTool describes the tool that generated the report
type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

// SARIFDriver contains tool metadata
type SARIFDriver struct {
	Name            string `json:"name"`
	InformationURI  string `json:"informationUri,omitempty"`
	SemanticVersion string `json:"semanticVersion,omitempty"`
}

// SARIFResult represents a single finding
type SARIFResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"` // "error", "warning", "note"
	Message   SARIFMessage    `json:"message"`
	Locations []SARIFLocation `json:"locations,omitempty"`
}

// SARIFMessage contains the finding message
type SARIFMessage struct {
	Text string `json:"text"`
}

// SARIFLocation describes where the finding occurred
type SARIFLocation struct {
	PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
}

// SARIFPhysicalLocation provides file and region
type SARIFPhysicalLocation struct {
	ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
	Region           *SARIFRegion          `json:"region,omitempty"`
}

// SARIFArtifactLocation identifies the artifact
type SARIFArtifactLocation struct {
	URI string `json:"uri"`
}

// SARIFRegion is a line/column position.
type SARIFRegion struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
}

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

// ToSARIF renders one SARIF run per check.
func (r *Report) ToSARIF() *SARIF {
	sarif := &SARIF{
		Version: "2.1.0",
		Schema:  sarifSchema,
		Runs:    make([]SARIFRun, 0, len(r.Checks)),
	}
	for _, c := range r.Checks {
		sarif.Runs = append(sarif.Runs, SARIFRun{
			Tool: SARIFTool{
				Driver: SARIFDriver{
					Name:            c.Name,
					InformationURI:  "https://github.com/felixgeelhaar/cigate",
					SemanticVersion: version.Version,
				},
			},
			Results: convertFindings(c.Findings),
		})
	}
	return sarif
}

func convertFindings(findings []analysis.Finding) []SARIFResult {
	results := make([]SARIFResult, 0, len(findings))
	for _, f := range findings {
		level := "warning"
		switch f.Severity {
		case analysis.SeverityError:
			level = "error"
		case analysis.SeverityNote:
			level = "note"
		}

		ruleID := f.Code
		if ruleID == "" {
			ruleID = f.Tool
		}

		result := SARIFResult{
			RuleID:  ruleID,
			Level:   level,
			Message: SARIFMessage{Text: f.Message},
		}
		if f.File != "" {
			loc := SARIFLocation{
				PhysicalLocation: SARIFPhysicalLocation{
					ArtifactLocation: SARIFArtifactLocation{URI: f.File},
				},
			}
			if f.Line > 0 {
				loc.PhysicalLocation.Region = &SARIFRegion{StartLine: f.Line, StartColumn: f.Col}
			}
			result.Locations = []SARIFLocation{loc}
		}
		results = append(results, result)
	}
	return results
}

// SaveSARIF writes a SARIF report to disk
func SaveSARIF(sarif *SARIF, path string) error {
	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal SARIF: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write SARIF file: %w", err)
	}

	return nil
}
