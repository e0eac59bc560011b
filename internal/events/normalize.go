package events

import (
	"strconv"
	"strings"
	"time"
)

const noMessage = "No log message."

// Normalize maps a raw platform record into the canonical schema. It is
// total: malformed or missing fields fall back to safe defaults rather than
// failing, so a degraded collector run still yields usable rows.
func Normalize(raw RawRecord) NormalizedEvent {
	ts := raw.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	var e NormalizedEvent
	switch raw.OS {
	case OSLinux:
		e = normalizeLinux(raw)
	case OSMacos:
		e = normalizeMacos(raw)
	case OSWindows:
		e = normalizeWindows(raw)
	default:
		e = NormalizedEvent{
			LogName:  firstNonEmpty(raw.Channel, "unknown"),
			Category: CategoryOther,
			Provider: "unknown",
			Severity: SeverityInformation,
			Message:  noMessage,
		}
	}

	e.OS = raw.OS
	e.Timestamp = ts
	e.Payload = raw.Payload
	if strings.TrimSpace(e.Message) == "" {
		e.Message = noMessage
	}
	if strings.TrimSpace(e.Provider) == "" {
		e.Provider = "unknown"
	}
	if e.Category == "" {
		e.Category = CategoryOther
	}
	if e.Severity == "" {
		e.Severity = SeverityInformation
	}
	e.ID = DeriveID(e.OS, raw.Channel, ts, e.Provider, e.EventID, e.Message)
	return e
}

func normalizeLinux(raw RawRecord) NormalizedEvent {
	f := raw.Fields
	identifier := f["SYSLOG_IDENTIFIER"]
	comm := f["_COMM"]
	unit := f["_SYSTEMD_UNIT"]
	transport := f["_TRANSPORT"]

	logName := firstNonEmpty(identifier, comm, unit, transport, "journal")
	provider := firstNonEmpty(comm, identifier, f["_EXE"], "unknown")
	return NormalizedEvent{
		LogName:  logName,
		Category: keywordCategory(identifier, comm, unit, transport, provider),
		Provider: provider,
		Severity: journalSeverity(firstNonEmpty(f["PRIORITY"], f["SYSLOG_PRIORITY"])),
		Message:  f["MESSAGE"],
	}
}

func normalizeMacos(raw RawRecord) NormalizedEvent {
	f := raw.Fields
	subsystem := f["subsystem"]
	category := f["category"]
	process := f["process"]
	sender := f["sender"]

	provider := firstNonEmpty(process, sender, subsystem, "unknown")
	e := NormalizedEvent{
		// The unified log's subsystem plays the role of the log name.
		LogName:  firstNonEmpty(subsystem, category, process, sender, "system"),
		Category: keywordCategory(category, subsystem, provider),
		Provider: provider,
		Severity: macosSeverity(firstNonEmpty(f["messageType"], f["level"])),
		Message:  firstNonEmpty(f["eventMessage"], f["message"], f["formattedMessage"]),
	}
	if id, err := strconv.ParseUint(f["eventID"], 10, 32); err == nil {
		v := uint32(id)
		e.EventID = &v
	}
	return e
}

func normalizeWindows(raw RawRecord) NormalizedEvent {
	f := raw.Fields
	logName := firstNonEmpty(f["LogName"], raw.Channel, "Application")
	e := NormalizedEvent{
		LogName:  logName,
		Category: windowsCategory(logName),
		Provider: firstNonEmpty(f["ProviderName"], "Unknown Provider"),
		Severity: windowsSeverity(f["LevelDisplayName"]),
		Message:  f["Message"],
	}
	if id, err := strconv.ParseUint(f["Id"], 10, 32); err == nil {
		v := uint32(id)
		e.EventID = &v
	}
	if e.Message == "" {
		e.Message = "No event message."
	}
	return e
}

// journalSeverity maps syslog priorities: 0-2 critical, 3 error, 4 warning,
// everything else (including unparseable) information.
func journalSeverity(priority string) Severity {
	n, err := strconv.Atoi(strings.TrimSpace(priority))
	if err != nil {
		return SeverityInformation
	}
	switch {
	case n <= 2:
		return SeverityCritical
	case n == 3:
		return SeverityError
	case n == 4:
		return SeverityWarning
	default:
		return SeverityInformation
	}
}

func macosSeverity(level string) Severity {
	lower := strings.ToLower(level)
	switch {
	case strings.Contains(lower, "fault"), strings.Contains(lower, "critical"):
		return SeverityCritical
	case strings.Contains(lower, "error"):
		return SeverityError
	case strings.Contains(lower, "warn"):
		return SeverityWarning
	default:
		return SeverityInformation
	}
}

func windowsSeverity(level string) Severity {
	lower := strings.ToLower(level)
	switch {
	case strings.Contains(lower, "critical"):
		return SeverityCritical
	case strings.Contains(lower, "error"), strings.Contains(lower, "audit failure"):
		return SeverityError
	case strings.Contains(lower, "warning"):
		return SeverityWarning
	default:
		return SeverityInformation
	}
}

func windowsCategory(logName string) Category {
	lower := strings.ToLower(logName)
	switch {
	case strings.Contains(lower, "security"):
		return CategorySecurity
	case strings.Contains(lower, "system"):
		return CategorySystem
	default:
		return CategoryApplication
	}
}

// keywordCategory classifies journal/unified-log records by well-known
// subsystem names.
func keywordCategory(values ...string) Category {
	lower := strings.ToLower(strings.Join(values, " "))
	switch {
	case strings.Contains(lower, "audit"):
		return CategoryAudit
	case strings.Contains(lower, "auth"),
		strings.Contains(lower, "ssh"),
		strings.Contains(lower, "sudo"),
		strings.Contains(lower, "security"):
		return CategorySecurity
	case strings.Contains(lower, "kernel"),
		strings.Contains(lower, "systemd"),
		strings.Contains(lower, "dbus"),
		strings.Contains(lower, "udev"),
		strings.Contains(lower, "system"):
		return CategorySystem
	default:
		return CategoryApplication
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
