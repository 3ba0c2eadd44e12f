package types

import (
	"fmt"
	"strings"
)

// Category classifies an audit event. The set is open: callers may use
// categories beyond the predefined ones.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryAdministrative Category = "administrative"
	CategoryConfiguration  Category = "configuration"
	CategorySystem         Category = "system"
	CategoryFile           Category = "file"
	CategoryResourceAccess Category = "resource_access"
	CategoryAPIAccess      Category = "api_access"
)

// KnownCategories lists the predefined categories
var KnownCategories = []Category{
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryDataAccess,
	CategoryAdministrative,
	CategoryConfiguration,
	CategorySystem,
	CategoryFile,
	CategoryResourceAccess,
	CategoryAPIAccess,
}

// Severity is the ordered importance of an audit event
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
	SeverityAlert     Severity = "alert"
	SeverityEmergency Severity = "emergency"
)

// Severities lists every level in ascending order
var Severities = []Severity{
	SeverityInfo,
	SeverityWarning,
	SeverityError,
	SeverityCritical,
	SeverityAlert,
	SeverityEmergency,
}

var severityRank = map[Severity]int{
	SeverityInfo:      0,
	SeverityWarning:   1,
	SeverityError:     2,
	SeverityCritical:  3,
	SeverityAlert:     4,
	SeverityEmergency: 5,
}

// ParseSeverity parses a severity name (case-insensitive)
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether the severity is one of the known levels
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the position of the severity in the ordering, -1 if unknown
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or above min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}
