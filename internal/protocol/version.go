package protocol

import (
	"github.com/Masterminds/semver/v3"
)

// Version is the protocol version announced by adapters in CONTENT_SCRIPT_READY.
const Version = "1.2.0"

// compatibleRange is what the background accepts from an adapter.
const compatibleRange = "^1.0.0"

var compatibleConstraint = mustConstraint(compatibleRange)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Compatible reports whether an adapter announcing version v can be spoken to.
// An empty version is treated as a pre-versioning adapter and accepted.
func Compatible(v string) bool {
	if v == "" {
		return true
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	return compatibleConstraint.Check(parsed)
}
