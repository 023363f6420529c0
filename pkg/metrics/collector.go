package metrics

import (
	"github.com/dockpeek/dockpeek/pkg/types"
)

// UpdateFromSnapshot refreshes the fleet gauges from one collection pass.
func UpdateFromSnapshot(snapshot *types.FleetSnapshot) {
	var critical, high, medium, low, total float64
	var running, scanned, unscanned, updates int

	ContainerVulns.Reset()

	for _, c := range snapshot.Containers {
		switch c.Status {
		case "running", "healthy", "starting", "unhealthy":
			running++
		}
		if c.UpdateAvailable || c.NewerVersionAvailable {
			updates++
		}

		if c.Security == nil {
			continue
		}
		switch c.Security.Status {
		case types.ScanStatusScanned:
			scanned++
			critical += float64(c.Security.Critical)
			high += float64(c.Security.High)
			medium += float64(c.Security.Medium)
			low += float64(c.Security.Low)
			total += float64(c.Security.Total)

			labels := []string{c.Name, c.Server, c.Image}
			ContainerVulns.WithLabelValues(append(labels, "critical")...).Set(float64(c.Security.Critical))
			ContainerVulns.WithLabelValues(append(labels, "high")...).Set(float64(c.Security.High))
			ContainerVulns.WithLabelValues(append(labels, "medium")...).Set(float64(c.Security.Medium))
			ContainerVulns.WithLabelValues(append(labels, "low")...).Set(float64(c.Security.Low))
		case types.ScanStatusNotScanned:
			unscanned++
		}
	}

	VulnCritical.Set(critical)
	VulnHigh.Set(high)
	VulnMedium.Set(medium)
	VulnLow.Set(low)
	VulnTotal.Set(total)

	ContainersTotal.Set(float64(len(snapshot.Containers)))
	ContainersRunning.Set(float64(running))
	ContainersScanned.Set(float64(scanned))
	ContainersUnscanned.Set(float64(unscanned))
	UpdatesAvailable.Set(float64(updates))

	active := 0
	for _, s := range snapshot.Servers {
		if s.Status == types.HostStatusActive {
			active++
		}
	}
	HostsActive.Set(float64(active))

	ScansPending.Set(float64(snapshot.ScansPending))
	if snapshot.ScannerHealthy {
		ScannerHealthy.Set(1)
	} else {
		ScannerHealthy.Set(0)
	}
}
