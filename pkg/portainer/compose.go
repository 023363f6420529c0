package portainer

import (
	"regexp"
	"strings"
)

// The orchestrator owns the compose documents; we only ever mutate the
// narrow image line of a named service, by line-level scanning. Full YAML
// parsing is deliberately out of scope.

var (
	servicePattern       = regexp.MustCompile(`^  ([a-zA-Z0-9_\-.]+)\s*:\s*$`)
	containerNamePattern = regexp.MustCompile(`^\s+container_name\s*:\s*['"]?([^'"#\s]+)['"]?`)
	imageLinePattern     = regexp.MustCompile(`^(\s+image\s*:\s*)(.+)$`)
)

// parseContainerNames scans a compose document line by line and returns
// {service name: container name} for every service that declares an explicit
// container_name. Services without one are skipped; they cannot be matched
// reliably without full YAML parsing.
func parseContainerNames(compose string) map[string]string {
	result := make(map[string]string)
	currentService := ""
	inServices := false

	for _, line := range strings.Split(compose, "\n") {
		stripped := strings.TrimRight(line, " \t\r")

		if stripped == "services:" {
			inServices = true
			currentService = ""
			continue
		}

		// A top-level key other than services ends the block.
		if inServices && stripped != "" && !strings.HasPrefix(stripped, " ") {
			inServices = false
			currentService = ""
			continue
		}

		if !inServices {
			continue
		}

		if m := servicePattern.FindStringSubmatch(stripped); m != nil {
			currentService = m[1]
			continue
		}

		if currentService != "" {
			if m := containerNamePattern.FindStringSubmatch(stripped); m != nil {
				result[currentService] = m[1]
			}
		}
	}

	return result
}

// applyImageUpdates returns compose with the first image line inside each
// targeted service block replaced. Returns the services that could not be
// patched.
func applyImageUpdates(compose string, imageUpdates map[string]string) (string, []string) {
	lines := strings.SplitAfter(compose, "\n")

	currentService := ""
	inServices := false
	replaced := make(map[string]bool)

	for i, line := range lines {
		stripped := strings.TrimRight(line, " \t\r\n")

		if stripped == "services:" {
			inServices = true
			currentService = ""
			continue
		}

		if inServices && stripped != "" && !strings.HasPrefix(stripped, " ") {
			inServices = false
			currentService = ""
			continue
		}

		if !inServices {
			continue
		}

		if m := servicePattern.FindStringSubmatch(stripped); m != nil {
			currentService = m[1]
			continue
		}

		newImage, targeted := imageUpdates[currentService]
		if currentService == "" || !targeted || replaced[currentService] {
			continue
		}

		if m := imageLinePattern.FindStringSubmatch(stripped); m != nil {
			ending := ""
			if strings.HasSuffix(line, "\n") {
				ending = "\n"
			}
			lines[i] = m[1] + newImage + ending
			replaced[currentService] = true
		}
	}

	var missing []string
	for service := range imageUpdates {
		if !replaced[service] {
			missing = append(missing, service)
		}
	}

	return strings.Join(lines, ""), missing
}
