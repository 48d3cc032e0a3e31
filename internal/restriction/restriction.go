// Package restriction decides whether an issue may appear in a public digest.
package restriction

import (
	"strings"

	"basegraph.app/digest/internal/model"
)

// Canonical group names adapters use when their backend marks an issue
// restricted without a Bugzilla-style group list.
const (
	GroupSecurity     = "security"
	GroupConfidential = "confidential"
)

var securityGroups = map[string]struct{}{
	GroupSecurity:                   {},
	"core-security":                 {},
	"core-security-release":         {},
	"crypto-core-security":          {},
	"dom-core-security":             {},
	"firefox-core-security":         {},
	"gfx-core-security":             {},
	"javascript-core-security":      {},
	"layout-core-security":          {},
	"mail-core-security":            {},
	"media-core-security":           {},
	"network-core-security":         {},
	"toolkit-core-security":         {},
	"websites-security":             {},
	"client-services-security":      {},
	"cloud-services-security":       {},
	"infra-security":                {},
	"mozilla-services-security":     {},
	"releng-security":               {},
	"sec-bounty":                    {},
	"webtools-security":             {},
	"partner-confidential-security": {},
}

var confidentialGroups = map[string]struct{}{
	GroupConfidential:                  {},
	"mozilla-employee-confidential":    {},
	"mozilla-corporation-confidential": {},
	"mozilla-confidential":             {},
	"mozilla-foundation-confidential":  {},
	"partner-confidential":             {},
	"legal":                            {},
	"hr":                               {},
	"finance":                          {},
	"marketing-private":                {},
	"pr-private":                       {},
}

// IsRestricted reports whether groups intersects the security or
// confidentiality denylist. The empty set is never restricted.
func IsRestricted(groups []string) bool {
	return Classify(groups) != model.RestrictionNone
}

// Classify names the restriction category of a group set. Security wins when
// both lists match.
func Classify(groups []string) model.RestrictionCategory {
	confidential := false
	for _, g := range groups {
		g = strings.ToLower(strings.TrimSpace(g))
		if _, ok := securityGroups[g]; ok {
			return model.RestrictionSecurity
		}
		if _, ok := confidentialGroups[g]; ok {
			confidential = true
		}
	}
	if confidential {
		return model.RestrictionConfidential
	}
	return model.RestrictionNone
}

// Check classifies an issue. Group lists are authoritative when present;
// otherwise an issue its adapter flagged secure counts as security-restricted.
func Check(issue model.Issue) model.RestrictionCategory {
	if len(issue.Groups) > 0 {
		return Classify(issue.Groups)
	}
	if issue.IsSecure {
		return model.RestrictionSecurity
	}
	return model.RestrictionNone
}
