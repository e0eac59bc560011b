package crash

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"hermescore/internal/events"
)

// Importer scans the host's crash artifact locations and turns them into
// normalized records. It does no persistence; the sync coordinator owns
// dedup and storage. A missing artifact directory is a normal empty
// outcome, not a failure.
type Importer struct {
	OS events.OS

	// Overridable for tests.
	WERRoots       []string
	MinidumpDir    string
	DiagnosticDirs []string
	ApportDir      string
	RunCoredumpctl func(ctx context.Context) ([]byte, error)
}

func NewImporter(hostOS events.OS) *Importer {
	imp := &Importer{OS: hostOS}
	switch hostOS {
	case events.OSWindows:
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		systemRoot := os.Getenv("SystemRoot")
		if systemRoot == "" {
			systemRoot = `C:\Windows`
		}
		imp.WERRoots = []string{
			filepath.Join(programData, "Microsoft", "Windows", "WER", "ReportArchive"),
			filepath.Join(programData, "Microsoft", "Windows", "WER", "ReportQueue"),
		}
		imp.MinidumpDir = filepath.Join(systemRoot, "Minidump")
	case events.OSMacos:
		imp.DiagnosticDirs = []string{"/Library/Logs/DiagnosticReports"}
		if home, err := os.UserHomeDir(); err == nil {
			imp.DiagnosticDirs = append(imp.DiagnosticDirs,
				filepath.Join(home, "Library", "Logs", "DiagnosticReports"))
		}
	default:
		imp.ApportDir = "/var/crash"
		imp.RunCoredumpctl = func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "coredumpctl", "list", "--no-pager", "--no-legend").Output()
		}
	}
	return imp
}

// Scan returns up to limit crash records found on the host, newest last,
// plus warnings for locations that could not be read.
func (imp *Importer) Scan(ctx context.Context, limit int) ([]Record, []string) {
	if limit <= 0 {
		limit = 100
	}
	var records []Record
	var warnings []string
	switch imp.OS {
	case events.OSWindows:
		records, warnings = imp.scanWindows(limit)
	case events.OSMacos:
		records, warnings = imp.scanMacos(limit)
	default:
		records, warnings = imp.scanLinux(ctx, limit)
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, warnings
}

func (imp *Importer) scanWindows(limit int) ([]Record, []string) {
	var records []Record
	var warnings []string

	for _, root := range imp.WERRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("read %s: %v", root, err))
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || len(records) >= limit {
				continue
			}
			full := filepath.Join(root, entry.Name())
			crashType, component := parseWERName(entry.Name())
			records = append(records, Record{
				ID:                 DeriveID(full),
				Timestamp:          modTime(entry),
				OS:                 events.OSWindows,
				Source:             "WER",
				CrashType:          crashType,
				Summary:            fmt.Sprintf("Windows Error Reporting archived a %s report (%s).", crashType, entry.Name()),
				SuspectedComponent: component,
				RawPath:            full,
			})
		}
	}

	if imp.MinidumpDir != "" {
		entries, err := os.ReadDir(imp.MinidumpDir)
		if err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("read %s: %v", imp.MinidumpDir, err))
		}
		for _, entry := range entries {
			if entry.IsDir() || len(records) >= limit {
				continue
			}
			if !strings.EqualFold(filepath.Ext(entry.Name()), ".dmp") {
				continue
			}
			full := filepath.Join(imp.MinidumpDir, entry.Name())
			records = append(records, Record{
				ID:        DeriveID(full),
				Timestamp: modTime(entry),
				OS:        events.OSWindows,
				Source:    "Minidump",
				CrashType: "BSOD",
				Summary:   fmt.Sprintf("Kernel minidump %s indicates a bugcheck.", entry.Name()),
				RawPath:   full,
			})
		}
	}
	return records, warnings
}

// parseWERName splits WER report directory names such as
// "AppCrash_notepad.exe_1a2b3c_..." into a crash type and the faulting
// component.
func parseWERName(name string) (crashType, component string) {
	parts := strings.Split(name, "_")
	switch {
	case strings.HasPrefix(name, "AppHang"):
		crashType = "Application Hang"
	case strings.HasPrefix(name, "Kernel"):
		crashType = "Kernel"
	default:
		crashType = "Application Crash"
	}
	if len(parts) > 1 && parts[1] != "" {
		component = parts[1]
	}
	return crashType, component
}

func (imp *Importer) scanMacos(limit int) ([]Record, []string) {
	var records []Record
	var warnings []string

	for _, dir := range imp.DiagnosticDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("read %s: %v", dir, err))
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || len(records) >= limit {
				continue
			}
			crashType, ok := diagnosticReportType(entry.Name())
			if !ok {
				continue
			}
			full := filepath.Join(dir, entry.Name())
			records = append(records, Record{
				ID:                 DeriveID(full),
				Timestamp:          modTime(entry),
				OS:                 events.OSMacos,
				Source:             "DiagnosticReports",
				CrashType:          crashType,
				Summary:            fmt.Sprintf("Diagnostic report %s recorded a %s.", entry.Name(), strings.ToLower(crashType)),
				SuspectedComponent: reportComponent(entry.Name()),
				RawPath:            full,
			})
		}
	}
	return records, warnings
}

func diagnosticReportType(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".panic":
		return "Kernel Panic", true
	case ".hang":
		return "Hang", true
	case ".crash", ".ips":
		return "Application Crash", true
	case ".diag", ".spin":
		return "Diagnostic", true
	}
	return "", false
}

// reportComponent extracts the process name from report file names like
// "Safari_2026-02-20-140322_host.crash".
func reportComponent(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.IndexAny(base, "_-"); i > 0 {
		return base[:i]
	}
	return base
}

func (imp *Importer) scanLinux(ctx context.Context, limit int) ([]Record, []string) {
	var records []Record
	var warnings []string

	if imp.ApportDir != "" {
		entries, err := os.ReadDir(imp.ApportDir)
		if err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("read %s: %v", imp.ApportDir, err))
		}
		for _, entry := range entries {
			if entry.IsDir() || len(records) >= limit {
				continue
			}
			if !strings.HasSuffix(entry.Name(), ".crash") {
				continue
			}
			full := filepath.Join(imp.ApportDir, entry.Name())
			records = append(records, Record{
				ID:                 DeriveID(full),
				Timestamp:          modTime(entry),
				OS:                 events.OSLinux,
				Source:             "apport",
				CrashType:          "Application Crash",
				Summary:            fmt.Sprintf("Apport captured a crash report %s.", entry.Name()),
				SuspectedComponent: apportComponent(entry.Name()),
				RawPath:            full,
			})
		}
	}

	if imp.RunCoredumpctl != nil && len(records) < limit {
		out, err := imp.RunCoredumpctl(ctx)
		if err != nil {
			// coredumpctl exits non-zero when the journal holds no core
			// dumps; only a missing binary is worth a warning.
			if _, ok := err.(*exec.ExitError); !ok {
				warnings = append(warnings, fmt.Sprintf("coredumpctl: %v", err))
			}
		} else {
			records = append(records, parseCoredumpList(out, limit-len(records))...)
		}
	}
	return records, warnings
}

// apportComponent recovers the executable path from apport file names like
// "_usr_bin_foo.1000.crash".
func apportComponent(name string) string {
	base := strings.TrimSuffix(name, ".crash")
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return strings.ReplaceAll(base, "_", "/")
}

// parseCoredumpList reads `coredumpctl list --no-legend` lines of the form
// "Wed 2026-02-25 10:11:12 PST PID UID GID SIG COREFILE EXE SIZE".
func parseCoredumpList(out []byte, limit int) []Record {
	var records []Record
	for _, line := range strings.Split(string(out), "\n") {
		if len(records) >= limit {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", fields[1]+" "+fields[2], time.Local)
		if err != nil {
			continue
		}
		pid, sig, exe := fields[4], fields[7], fields[9]
		records = append(records, Record{
			ID:                 DeriveID("coredump://" + pid + exe),
			Timestamp:          ts.UTC(),
			OS:                 events.OSLinux,
			Source:             "coredumpctl",
			CrashType:          "Core Dump",
			Code:               sig,
			Summary:            fmt.Sprintf("Process %s dumped core (signal %s).", exe, sig),
			SuspectedComponent: filepath.Base(exe),
			RawPath:            "coredump://" + pid + exe,
		})
	}
	return records
}

func modTime(entry os.DirEntry) time.Time {
	info, err := entry.Info()
	if err != nil {
		return time.Now().UTC()
	}
	return info.ModTime().UTC()
}
