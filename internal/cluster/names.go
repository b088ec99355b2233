package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kubernetes object names must be valid DNS labels.
const (
	maxLabelLength = 63

	podPrefix     = "ws-"
	serviceSuffix = "-http"
	volumePrefix  = "vol-"

	// shortIDLength is how many trailing characters of the env ID go
	// into the name. The tail of a ULID is its random component.
	shortIDLength = 8

	// hashSuffixLength is the size of the uniqueness suffix appended
	// when an owner identity must be truncated.
	hashSuffixLength = 8
)

// Sanitize converts an arbitrary owner identity (typically an email
// address) into a DNS-label-safe fragment. The result is deterministic:
// the same input always produces the same output.
func Sanitize(identity string) string {
	lowered := strings.ToLower(identity)

	var b strings.Builder
	b.Grow(len(lowered))
	lastHyphen := false
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			// Collapse runs of invalid characters into one hyphen.
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "user"
	}
	return out
}

// PodName derives the deterministic workload name for an environment.
// It is a pure function of (owner identity, env ID) and always fits in
// a DNS label, leaving room for the service suffix.
func PodName(ownerIdentity, envID string) string {
	short := shortID(envID)

	// Reserve space for prefix, separator, short ID, and the service
	// suffix that shares this budget.
	budget := maxLabelLength - len(podPrefix) - 1 - len(short) - len(serviceSuffix)

	owner := Sanitize(ownerIdentity)
	if len(owner) > budget {
		// Truncation could collide between owners; append a hash of
		// the full identity to keep names unique and deterministic.
		sum := sha256.Sum256([]byte(owner))
		hash := hex.EncodeToString(sum[:])[:hashSuffixLength]
		owner = strings.TrimRight(owner[:budget-hashSuffixLength-1], "-") + "-" + hash
	}

	return podPrefix + owner + "-" + short
}

// ServiceName derives the network endpoint name for an environment.
func ServiceName(ownerIdentity, envID string) string {
	return PodName(ownerIdentity, envID) + serviceSuffix
}

// VolumeName derives the storage claim name for an owner/application
// pair. It intentionally omits the env ID so the volume binding
// survives restarts and relaunches of the same application.
func VolumeName(ownerIdentity, applicationID string) string {
	short := Sanitize(applicationID)

	budget := maxLabelLength - len(volumePrefix) - 1 - len(short)

	owner := Sanitize(ownerIdentity)
	if len(owner) > budget {
		sum := sha256.Sum256([]byte(owner))
		hash := hex.EncodeToString(sum[:])[:hashSuffixLength]
		owner = strings.TrimRight(owner[:budget-hashSuffixLength-1], "-") + "-" + hash
	}

	return volumePrefix + owner + "-" + short
}

// shortID returns the lowercase tail of an environment ID.
func shortID(envID string) string {
	id := strings.ToLower(envID)
	if len(id) > shortIDLength {
		id = id[len(id)-shortIDLength:]
	}
	return id
}
