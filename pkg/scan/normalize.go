package scan

import (
	"strings"
	"time"
)

// scannerResponse mirrors the scanner's JSON report shape:
// {"Results": [{"Vulnerabilities": [...]}]}.
type scannerResponse struct {
	Results []struct {
		Vulnerabilities []scannerVulnerability `json:"Vulnerabilities"`
	} `json:"Results"`
}

type scannerVulnerability struct {
	VulnerabilityID  string                     `json:"VulnerabilityID"`
	Severity         string                     `json:"Severity"`
	Title            string                     `json:"Title"`
	Description      string                     `json:"Description"`
	PkgName          string                     `json:"PkgName"`
	InstalledVersion string                     `json:"InstalledVersion"`
	FixedVersion     string                     `json:"FixedVersion"`
	CVSS             map[string]scannerCVSSData `json:"CVSS"`
}

type scannerCVSSData struct {
	V2Score  float64 `json:"V2Score"`
	V3Score  float64 `json:"V3Score"`
	V2Vector string  `json:"V2Vector"`
	V3Vector string  `json:"V3Vector"`
}

// cvssVendorPriority is the order vendors are consulted for a score.
var cvssVendorPriority = []string{"nvd", "redhat", "ghsa", "amazon", "oracle"}

// extractCVSS walks the vendor priority list and prefers a V3 score over a
// V2 one within each vendor.
func extractCVSS(data map[string]scannerCVSSData) (*float64, string) {
	for _, vendor := range cvssVendorPriority {
		vendorData, ok := data[vendor]
		if !ok {
			continue
		}

		score := vendorData.V3Score
		vector := vendorData.V3Vector
		if score == 0 {
			score = vendorData.V2Score
		}
		if vector == "" {
			vector = vendorData.V2Vector
		}
		if score != 0 {
			return &score, vector
		}
	}
	return nil, ""
}

// normalizeResponse converts the raw scanner report into a Result with a
// consistent severity summary.
func normalizeResponse(response *scannerResponse, image, digest string, duration float64) *Result {
	result := &Result{
		Image:           image,
		Digest:          digest,
		Timestamp:       time.Now(),
		DurationSeconds: duration,
	}

	for _, target := range response.Results {
		for _, raw := range target.Vulnerabilities {
			severity := strings.ToUpper(raw.Severity)
			if severity == "" {
				severity = "UNKNOWN"
			}

			id := raw.VulnerabilityID
			if id == "" {
				id = "UNKNOWN"
			}

			score, vector := extractCVSS(raw.CVSS)

			result.Vulnerabilities = append(result.Vulnerabilities, Vulnerability{
				ID:               id,
				Severity:         severity,
				Title:            raw.Title,
				Description:      raw.Description,
				PkgName:          raw.PkgName,
				InstalledVersion: raw.InstalledVersion,
				FixedVersion:     raw.FixedVersion,
				CVSSScore:        score,
				CVSSVector:       vector,
			})
			result.Summary.Add(severity)
		}
	}

	return result
}
