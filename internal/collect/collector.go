package collect

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"hermescore/internal/events"
)

// Range bounds a collection. Zero values mean unbounded on that side.
type Range struct {
	From time.Time
	To   time.Time
}

// Options tunes a collection run. Channels only applies on Windows.
type Options struct {
	Channels  []string
	MaxEvents int
}

const defaultMaxEvents = 2000

// maxCollectable is the absolute per-run ceiling regardless of configuration.
const maxCollectable = 20000

func (o Options) maxEvents() int {
	if o.MaxEvents <= 0 {
		return defaultMaxEvents
	}
	if o.MaxEvents > maxCollectable {
		return maxCollectable
	}
	return o.MaxEvents
}

// Result is a collection outcome. Warnings describe degraded sub-collections
// (an inaccessible channel, skipped malformed lines); they accompany a
// successful result and are not errors.
type Result struct {
	Records  []events.RawRecord
	Warnings []string
}

// Collector queries one host log facility for a time range. A non-nil error
// means a hard failure: nothing usable was collected and a genuine
// collection error occurred. "No events in range" is a success with an
// empty Records slice.
type Collector interface {
	Collect(ctx context.Context, r Range, opts Options) (Result, error)
}

// HostOS reports the canonical origin OS of this host.
func HostOS() events.OS {
	switch runtime.GOOS {
	case "windows":
		return events.OSWindows
	case "darwin":
		return events.OSMacos
	default:
		return events.OSLinux
	}
}

// ForHost selects the collector variant for this host. Called once at
// startup; callers hold on to the returned value instead of re-detecting.
func ForHost() Collector {
	switch HostOS() {
	case events.OSWindows:
		return &WindowsCollector{}
	case events.OSMacos:
		return &MacosCollector{}
	default:
		return &LinuxCollector{}
	}
}

// HostOSVersion returns a human-readable host OS description.
func HostOSVersion(ctx context.Context) string {
	switch HostOS() {
	case events.OSMacos:
		name := runShort(ctx, "sw_vers", "-productName")
		version := runShort(ctx, "sw_vers", "-productVersion")
		if name == "" {
			name = "macOS"
		}
		if version == "" {
			version = "Unknown"
		}
		return name + " " + version
	case events.OSWindows:
		out := runShort(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
			"(Get-CimInstance Win32_OperatingSystem).Caption + ' ' + (Get-CimInstance Win32_OperatingSystem).Version")
		if out == "" {
			return "Windows (version unavailable)"
		}
		return out
	default:
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "PRETTY_NAME=") {
					v := strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `" `)
					if v != "" {
						return v
					}
				}
			}
		}
		kernel := runShort(ctx, "uname", "-r")
		if kernel == "" {
			kernel = "unknown-kernel"
		}
		return "Linux (" + kernel + ")"
	}
}

// localTimeArg formats a bound the way the native CLIs expect: local time,
// second precision.
func localTimeArg(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
