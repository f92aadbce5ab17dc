// Package classify decides whether an observation may be shown to callers
// holding only the general observation tier.
//
// The classifier is a pure function and deliberately conservative:
// suppressing benign content is acceptable, leaking agent-internal chatter
// to a human-facing viewer is not.
package classify

import (
	"strings"

	"github.com/tomcat65/neural-memory/internal/memory"
)

// sensitiveMessageTypes marks observation channels that are always
// agent-internal.
var sensitiveMessageTypes = map[string]bool{
	"system":       true,
	"internal":     true,
	"coordination": true,
}

// sensitivePrefixes mark individual content entries as agent-internal.
var sensitivePrefixes = []string{"[system]", "[internal]"}

// Sensitive reports whether an observation is sensitive. Precedence,
// short-circuiting on first match:
//
//  1. messageType is system, internal, or coordination
//  2. entity-level metadata flags the observation sensitive
//  3. any contents entry, after trimming leading whitespace and case
//     folding, starts with [system] or [internal] — every entry is
//     inspected; one match taints the whole observation
//  4. otherwise non-sensitive
func Sensitive(obs memory.Observation) bool {
	if sensitiveMessageTypes[strings.ToLower(obs.MessageType)] {
		return true
	}
	if obs.Metadata.Sensitive {
		return true
	}
	for _, entry := range obs.Contents {
		normalized := strings.ToLower(strings.TrimLeft(entry, " \t\r\n"))
		for _, prefix := range sensitivePrefixes {
			if strings.HasPrefix(normalized, prefix) {
				return true
			}
		}
	}
	return false
}
