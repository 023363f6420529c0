package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "Results": [
    {
      "Vulnerabilities": [
        {
          "VulnerabilityID": "CVE-2024-0001",
          "Severity": "critical",
          "Title": "Buffer overflow",
          "PkgName": "openssl",
          "InstalledVersion": "3.0.1",
          "FixedVersion": "3.0.2",
          "CVSS": {
            "nvd": {"V3Score": 9.8, "V3Vector": "CVSS:3.1/AV:N"},
            "redhat": {"V3Score": 9.1}
          }
        },
        {
          "VulnerabilityID": "CVE-2024-0002",
          "Severity": "HIGH",
          "PkgName": "zlib",
          "InstalledVersion": "1.2.11",
          "CVSS": {
            "redhat": {"V2Score": 7.5, "V2Vector": "AV:N/AC:L"}
          }
        },
        {
          "VulnerabilityID": "CVE-2024-0003",
          "Severity": "weird",
          "PkgName": "libfoo",
          "InstalledVersion": "0.1"
        }
      ]
    },
    {
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2024-0004", "Severity": "low", "PkgName": "bash", "InstalledVersion": "5.1"}
      ]
    }
  ]
}`

func TestNormalizeResponse(t *testing.T) {
	var resp scannerResponse
	require.NoError(t, json.Unmarshal([]byte(sampleReport), &resp))

	result := normalizeResponse(&resp, "nginx:1.25", "sha256:abc", 3.5)

	assert.Equal(t, "nginx:1.25", result.Image)
	assert.Equal(t, "sha256:abc", result.Digest)
	assert.Equal(t, 3.5, result.DurationSeconds)
	require.Len(t, result.Vulnerabilities, 4)

	assert.Equal(t, 1, result.Summary.Critical)
	assert.Equal(t, 1, result.Summary.High)
	assert.Equal(t, 1, result.Summary.Low)
	assert.Equal(t, 1, result.Summary.Unknown)
	assert.Equal(t, 4, result.Summary.Total())

	first := result.Vulnerabilities[0]
	assert.Equal(t, "CVE-2024-0001", first.ID)
	assert.Equal(t, "CRITICAL", first.Severity)
	require.NotNil(t, first.CVSSScore)
	assert.Equal(t, 9.8, *first.CVSSScore, "nvd outranks redhat")
	assert.Equal(t, "CVSS:3.1/AV:N", first.CVSSVector)

	second := result.Vulnerabilities[1]
	require.NotNil(t, second.CVSSScore)
	assert.Equal(t, 7.5, *second.CVSSScore, "V2 is used when no V3 exists")
	assert.Equal(t, "AV:N/AC:L", second.CVSSVector)

	third := result.Vulnerabilities[2]
	assert.Equal(t, "WEIRD", third.Severity)
	assert.Nil(t, third.CVSSScore)
}

func TestExtractCVSSPrefersV3AcrossVendors(t *testing.T) {
	score, vector := extractCVSS(map[string]scannerCVSSData{
		"ghsa":   {V3Score: 8.1, V3Vector: "ghsa-vec"},
		"oracle": {V3Score: 9.9},
	})
	require.NotNil(t, score)
	assert.Equal(t, 8.1, *score, "ghsa comes before oracle in vendor priority")
	assert.Equal(t, "ghsa-vec", vector)
}

func TestExtractCVSSEmpty(t *testing.T) {
	score, vector := extractCVSS(nil)
	assert.Nil(t, score)
	assert.Empty(t, vector)

	score, _ = extractCVSS(map[string]scannerCVSSData{"vendorx": {V3Score: 5.0}})
	assert.Nil(t, score, "unknown vendors are not consulted")
}

func TestNormalizeEmptyReport(t *testing.T) {
	result := normalizeResponse(&scannerResponse{}, "img:1", "sha256:x", 0.1)
	assert.Empty(t, result.Vulnerabilities)
	assert.Equal(t, 0, result.Summary.Total())
}
