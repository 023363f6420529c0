package scan

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummaryTotalIsDerived(t *testing.T) {
	s := Summary{Critical: 1, High: 2, Medium: 3, Low: 4, Unknown: 5}
	assert.Equal(t, 15, s.Total())
}

func TestSummaryAddBuckets(t *testing.T) {
	var s Summary
	s.Add("CRITICAL")
	s.Add("HIGH")
	s.Add("MEDIUM")
	s.Add("LOW")
	s.Add("NEGLIGIBLE") // unrecognized maps to Unknown
	s.Add("")

	assert.Equal(t, 1, s.Critical)
	assert.Equal(t, 1, s.High)
	assert.Equal(t, 1, s.Medium)
	assert.Equal(t, 1, s.Low)
	assert.Equal(t, 2, s.Unknown)
	assert.Equal(t, 6, s.Total())
}

// The total == Σ by severity identity must survive reserialization, even
// when the stored total lies.
func TestSummaryRoundTripPreservesIdentity(t *testing.T) {
	s := Summary{Critical: 2, High: 1, Low: 3}

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total":6`)

	var decoded Summary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, s, decoded)
	assert.Equal(t, 6, decoded.Total())

	var tampered Summary
	require.NoError(t, json.Unmarshal([]byte(`{"critical":1,"high":1,"total":99}`), &tampered))
	assert.Equal(t, 2, tampered.Total())
}

func TestResultRoundTrip(t *testing.T) {
	score := 9.8
	res := &Result{
		Image:           "nginx:1.25",
		Digest:          "sha256:abc123",
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		DurationSeconds: 4.2,
		Vulnerabilities: []Vulnerability{
			{ID: "CVE-2024-0001", Severity: "CRITICAL", PkgName: "openssl", InstalledVersion: "3.0.1", CVSSScore: &score},
		},
		Summary: Summary{Critical: 1},
	}

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, res.Image, decoded.Image)
	assert.Equal(t, res.Digest, decoded.Digest)
	assert.Equal(t, res.Summary, decoded.Summary)
	require.Len(t, decoded.Vulnerabilities, 1)
	require.NotNil(t, decoded.Vulnerabilities[0].CVSSScore)
	assert.Equal(t, 9.8, *decoded.Vulnerabilities[0].CVSSScore)
}

func TestEnsureFingerprint(t *testing.T) {
	supplied := Vulnerability{ID: "CVE-1", Fingerprint: "scanner-fp"}
	assert.Equal(t, "scanner-fp", supplied.EnsureFingerprint())

	derived := Vulnerability{ID: "CVE-1", PkgName: "openssl", InstalledVersion: "3.0.1"}
	fp := derived.EnsureFingerprint()
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, derived.EnsureFingerprint(), "derivation is stable")

	other := Vulnerability{ID: "CVE-1", PkgName: "openssl", InstalledVersion: "3.0.2"}
	assert.NotEqual(t, fp, other.EnsureFingerprint())
}

func TestValidateImageName(t *testing.T) {
	valid := []string{
		"nginx",
		"nginx:latest",
		"linuxserver/sonarr:4.0.17",
		"ghcr.io/user/repo:v1.2.3",
		"registry.example.com/team/app:1.0",
	}
	for _, image := range valid {
		assert.True(t, ValidateImageName(image), image)
	}

	invalid := []string{
		"",
		"nginx; rm -rf /",
		"nginx$(whoami)",
		"nginx`id`",
		"nginx|cat",
		"nginx\nmalicious",
		"-leading-dash",
		string(make([]byte, 300)),
	}
	for _, image := range invalid {
		assert.False(t, ValidateImageName(image), "%q should be rejected", image)
	}
}
