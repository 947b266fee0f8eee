package rules

import (
	"strings"

	"threat-advisor/internal/model"
)

// Matches reports whether every present clause of c is satisfied by event.
// It is pure and safe for concurrent use.
func Matches(c model.Conditions, event model.Event) bool {
	if c.EventType != "" && string(event.Type) != c.EventType {
		return false
	}

	attrs := event.Attributes()

	if c.ProcessNameContains != nil {
		if attrs.ProcessName == nil || *attrs.ProcessName == "" {
			return false
		}
		if !containsAny(strings.ToLower(*attrs.ProcessName), c.ProcessNameContains) {
			return false
		}
	}

	if c.PortIn != nil {
		if attrs.RemotePort == nil || !containsInt(c.PortIn, *attrs.RemotePort) {
			return false
		}
	}

	if c.CPUPercent != nil {
		cpu := 0.0
		if attrs.CPUPercent != nil {
			cpu = *attrs.CPUPercent
		}
		if cpu < *c.CPUPercent {
			return false
		}
	}

	if c.PathContains != nil {
		if attrs.FilePath == nil || *attrs.FilePath == "" {
			return false
		}
		if !containsAny(strings.ToLower(*attrs.FilePath), c.PathContains) {
			return false
		}
	}

	if c.ExtensionIn != nil {
		if attrs.FilePath == nil || *attrs.FilePath == "" {
			return false
		}
		path := strings.ToLower(*attrs.FilePath)
		matched := false
		for _, ext := range c.ExtensionIn {
			if ext != "" && strings.HasSuffix(path, strings.ToLower(ext)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.ConnectionCount != nil {
		count := 0
		if attrs.ConnectionCount != nil {
			count = *attrs.ConnectionCount
		}
		if count < *c.ConnectionCount {
			return false
		}
	}

	if c.Count != nil {
		// A single observation counts as one occurrence
		count := 1
		if attrs.Count != nil {
			count = *attrs.Count
		}
		if count < *c.Count {
			return false
		}
	}

	return true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
