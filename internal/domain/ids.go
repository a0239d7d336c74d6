package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes double as a type tag checked before any store lookup.
const (
	PrefixAgent       = "agent"
	PrefixAction      = "action"
	PrefixNote        = "note"
	PrefixDraft       = "draft"
	PrefixAsset       = "asset"
	PrefixMeasurement = "measurement"
	PrefixInvocation  = "inv"
	PrefixAPIKey      = "key"
)

func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// HasPrefix reports whether id is a well-formed id of the given kind.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), prefix+"-")
	return ok && rest != ""
}
