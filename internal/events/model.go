package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OS string

const (
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSMacos   OS = "macos"
)

func ParseOS(v string) (OS, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "windows":
		return OSWindows, true
	case "linux":
		return OSLinux, true
	case "macos", "darwin":
		return OSMacos, true
	}
	return "", false
}

type Severity string

const (
	SeverityInformation Severity = "information"
	SeverityWarning     Severity = "warning"
	SeverityError       Severity = "error"
	SeverityCritical    Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInformation: 0,
	SeverityWarning:     1,
	SeverityError:       2,
	SeverityCritical:    3,
}

// Rank returns the total order position of s; unknown values rank as
// information.
func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

type Category string

const (
	CategoryApplication Category = "application"
	CategorySecurity    Category = "security"
	CategorySystem      Category = "system"
	CategoryAudit       Category = "audit"
	CategoryOther       Category = "other"
)

// NormalizedEvent is the canonical cross-OS event. Immutable once written;
// a re-sync of the same underlying record reproduces the same ID.
type NormalizedEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	OS        OS        `json:"os"`
	LogName   string    `json:"logName"`
	Category  Category  `json:"category"`
	Provider  string    `json:"provider"`
	EventID   *uint32   `json:"eventId,omitempty"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Payload   []byte    `json:"-"`
	Imported  bool      `json:"imported"`
}

// RawRecord is a platform record as returned by a collector, before
// normalization. Fields carries the selected native keys; Payload keeps the
// untouched platform line for provenance.
type RawRecord struct {
	OS      OS
	Channel string
	Time    time.Time
	Fields  map[string]string
	Payload []byte
}

// eventNamespace seeds the UUIDv5 space for event identity.
var eventNamespace = uuid.MustParse("3f9a5de2-6c1b-4b8e-9c21-7d2f60b4a0e5")

// DeriveID computes the stable identity of a normalized event. Two syncs
// that see the same underlying platform record produce the same ID, which
// is what makes the cache upsert idempotent.
func DeriveID(os OS, channel string, ts time.Time, provider string, eventID *uint32, message string) string {
	var id uint32
	if eventID != nil {
		id = *eventID
	}
	seed := fmt.Sprintf("%s|%s|%d|%s|%d|%s", os, channel, ts.UnixNano(), provider, id, message)
	return uuid.NewSHA1(eventNamespace, []byte(seed)).String()
}

// Filter selects events from the cache. Zero values mean "no constraint".
type Filter struct {
	OS          OS
	Category    Category
	MinSeverity Severity
	Provider    string
	Text        string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Matches reports whether e satisfies every set constraint.
func (f Filter) Matches(e *NormalizedEvent) bool {
	if f.OS != "" && e.OS != f.OS {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if f.Provider != "" && !strings.Contains(strings.ToLower(e.Provider), strings.ToLower(f.Provider)) {
		return false
	}
	if f.Text != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Text)) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}
