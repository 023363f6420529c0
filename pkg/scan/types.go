package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Vulnerability is one normalized finding from the scanner.
type Vulnerability struct {
	ID               string   `json:"cve_id"`
	Severity         string   `json:"severity"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	PkgName          string   `json:"pkg_name"`
	InstalledVersion string   `json:"installed_version"`
	FixedVersion     string   `json:"fixed_version,omitempty"`
	CVSSScore        *float64 `json:"cvss_score,omitempty"`
	CVSSVector       string   `json:"cvss_vector,omitempty"`
	Fingerprint      string   `json:"fingerprint,omitempty"`
}

// EnsureFingerprint returns the scanner-supplied fingerprint, deriving a
// stable one from the finding's identity when the scanner sent none.
func (v Vulnerability) EnsureFingerprint() string {
	if v.Fingerprint != "" {
		return v.Fingerprint
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", v.ID, v.PkgName, v.InstalledVersion)))
	return hex.EncodeToString(sum[:])
}

// Summary counts findings per severity bucket. Total is always derived, so
// the `total == Σ by severity` identity survives serialization.
type Summary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
}

// Total returns the sum over all severity buckets.
func (s Summary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Unknown
}

// Add counts a finding with the given (already uppercased) severity.
// Unrecognized severities land in the Unknown bucket.
func (s *Summary) Add(severity string) {
	switch severity {
	case "CRITICAL":
		s.Critical++
	case "HIGH":
		s.High++
	case "MEDIUM":
		s.Medium++
	case "LOW":
		s.Low++
	default:
		s.Unknown++
	}
}

// summaryJSON is the wire form of Summary; total is emitted for consumers
// but recomputed on load rather than trusted.
type summaryJSON struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// MarshalJSON emits the derived total alongside the per-severity counts.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryJSON{
		Critical: s.Critical,
		High:     s.High,
		Medium:   s.Medium,
		Low:      s.Low,
		Unknown:  s.Unknown,
		Total:    s.Total(),
	})
}

// UnmarshalJSON reads per-severity counts; the stored total is ignored.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var wire summaryJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Critical = wire.Critical
	s.High = wire.High
	s.Medium = wire.Medium
	s.Low = wire.Low
	s.Unknown = wire.Unknown
	return nil
}

// Result is the canonical normalized report for one image digest.
type Result struct {
	Image           string          `json:"image"`
	Digest          string          `json:"image_digest"`
	Timestamp       time.Time       `json:"scan_timestamp"`
	DurationSeconds float64         `json:"scan_duration"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         Summary         `json:"summary"`
	Error           string          `json:"error,omitempty"`
}
