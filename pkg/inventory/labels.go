package inventory

import (
	"strings"

	"github.com/dockpeek/dockpeek/pkg/types"
)

// Label namespaces the collector understands: compose/stack metadata,
// traefik.* routing rules, and the dockpeek.* presentation and
// orchestration hints.
const (
	composeProjectLabel = "com.docker.compose.project"
	stackNamespaceLabel = "com.docker.stack.namespace"
	ociSourceLabel      = "org.opencontainers.image.source"
	ociURLLabel         = "org.opencontainers.image.url"

	linkLabel              = "dockpeek.link"
	portsLabel             = "dockpeek.ports"
	portLabel              = "dockpeek.port"
	tagsLabel              = "dockpeek.tags"
	tagLabel               = "dockpeek.tag"
	httpsLabel             = "dockpeek.https"
	portRangeGroupingLabel = "dockpeek.port-range-grouping"
	securitySkipLabel      = "dockpeek.security.skip"

	roleLabel             = "dockpeek.role"
	anchorLabel           = "dockpeek.anchor"
	anchorTypeLabel       = "dockpeek.anchor-type"
	stackOverrideLabel    = "dockpeek.stack"
	hideLabel             = "dockpeek.hide"
	updateActionLabel     = "dockpeek.update.action"
	updateOrderLabel      = "dockpeek.update.order"
	updateAutoLabel       = "dockpeek.update.auto"
	stopBeforeAnchorLabel = "dockpeek.update.stop-before-anchor"
)

// LabelData is the presentation metadata extracted from one container's
// labels.
type LabelData struct {
	StackName         string
	SourceURL         string
	CustomURL         string
	CustomPorts       []string
	HTTPSPorts        []string
	Tags              []string
	PortRangeGrouping *bool
	SecuritySkip      bool
}

// ParseCommaSeparated splits a comma-separated label value, dropping empty
// items.
func ParseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func firstLabel(labels map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := labels[key]; v != "" {
			return v
		}
	}
	return ""
}

// ExtractLabelData pulls the presentation hints out of a label map.
func ExtractLabelData(labels map[string]string, tagsEnabled bool) LabelData {
	data := LabelData{
		StackName:    firstLabel(labels, composeProjectLabel, stackNamespaceLabel),
		SourceURL:    firstLabel(labels, ociSourceLabel, ociURLLabel),
		CustomURL:    labels[linkLabel],
		CustomPorts:  ParseCommaSeparated(firstLabel(labels, portsLabel, portLabel)),
		HTTPSPorts:   ParseCommaSeparated(labels[httpsLabel]),
		SecuritySkip: strings.EqualFold(labels[securitySkipLabel], "true"),
	}

	if tagsEnabled {
		data.Tags = ParseCommaSeparated(firstLabel(labels, tagsLabel, tagLabel))
	}

	if raw, ok := labels[portRangeGroupingLabel]; ok && raw != "" {
		grouping := strings.EqualFold(raw, "true")
		data.PortRangeGrouping = &grouping
	}

	return data
}

// ExtractOrchestration pulls the dockpeek.* role, anchor and update-policy
// hints. Returns nil when the container carries none of them.
func ExtractOrchestration(labels map[string]string) *types.Orchestration {
	o := &types.Orchestration{
		Role:             labels[roleLabel],
		Anchor:           labels[anchorLabel],
		AnchorType:       labels[anchorTypeLabel],
		StackOverride:    labels[stackOverrideLabel],
		Hidden:           strings.EqualFold(labels[hideLabel], "true"),
		UpdateAction:     labels[updateActionLabel],
		UpdateOrder:      labels[updateOrderLabel],
		AutoUpdate:       strings.EqualFold(labels[updateAutoLabel], "true"),
		StopBeforeAnchor: strings.EqualFold(labels[stopBeforeAnchorLabel], "true"),
	}

	if o.Role == "" && o.Anchor == "" && o.AnchorType == "" && o.StackOverride == "" &&
		!o.Hidden && o.UpdateAction == "" && o.UpdateOrder == "" && !o.AutoUpdate && !o.StopBeforeAnchor {
		return nil
	}
	return o
}
