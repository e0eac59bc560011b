package collect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"hermescore/internal/events"
)

func TestParseJournalLine(t *testing.T) {
	var p fastjson.Parser
	line := []byte(`{"__REALTIME_TIMESTAMP":"1772366400123456","PRIORITY":"3",` +
		`"MESSAGE":"Failed to start nginx.service","SYSLOG_IDENTIFIER":"systemd",` +
		`"_COMM":"systemd","_SYSTEMD_UNIT":"init.scope"}`)

	rec, ok := parseJournalLine(&p, line)
	require.True(t, ok)
	require.Equal(t, events.OSLinux, rec.OS)
	require.Equal(t, "journal", rec.Channel)
	require.Equal(t, "Failed to start nginx.service", rec.Fields["MESSAGE"])
	require.Equal(t, "3", rec.Fields["PRIORITY"])
	require.Equal(t, "systemd", rec.Fields["_COMM"])
	require.Equal(t, line, []byte(rec.Payload))

	want := time.Unix(1772366400, 123456000).UTC()
	require.True(t, rec.Time.Equal(want))
}

func TestParseJournalLineRejectsNonObjects(t *testing.T) {
	var p fastjson.Parser
	for _, line := range []string{"not json", `"just a string"`, `[1,2,3]`, `42`} {
		_, ok := parseJournalLine(&p, []byte(line))
		require.False(t, ok, "line %q", line)
	}
}

func TestJournalTimestampNumericAndFallback(t *testing.T) {
	var p fastjson.Parser

	v, err := p.Parse(`{"__REALTIME_TIMESTAMP":1772366400000000}`)
	require.NoError(t, err)
	require.True(t, journalTimestamp(v).Equal(time.Unix(1772366400, 0).UTC()))

	v, err = p.Parse(`{"_SOURCE_REALTIME_TIMESTAMP":"1772366401000000"}`)
	require.NoError(t, err)
	require.True(t, journalTimestamp(v).Equal(time.Unix(1772366401, 0).UTC()))

	v, err = p.Parse(`{"MESSAGE":"no timestamp"}`)
	require.NoError(t, err)
	require.True(t, journalTimestamp(v).IsZero())

	v, err = p.Parse(`{"__REALTIME_TIMESTAMP":"not-a-number"}`)
	require.NoError(t, err)
	require.True(t, journalTimestamp(v).IsZero())
}

func TestParseUnifiedLogEntry(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{
		"timestamp": "2026-02-20 14:03:22.123456-0800",
		"subsystem": "com.apple.launchd",
		"process": "launchd",
		"messageType": "Error",
		"eventMessage": "service exited with code 1",
		"eventID": 9001
	}`)
	require.NoError(t, err)

	rec, ok := parseUnifiedLogEntry(v)
	require.True(t, ok)
	require.Equal(t, events.OSMacos, rec.OS)
	require.Equal(t, "unified", rec.Channel)
	require.Equal(t, "com.apple.launchd", rec.Fields["subsystem"])
	require.Equal(t, "service exited with code 1", rec.Fields["eventMessage"])
	require.Equal(t, "9001", rec.Fields["eventID"])

	want := time.Date(2026, 2, 20, 22, 3, 22, 123456000, time.UTC)
	require.True(t, rec.Time.Equal(want))
}

func TestParseUnifiedLogEntryToleratesMissingTimestamp(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"eventMessage":"hello"}`)
	require.NoError(t, err)

	rec, ok := parseUnifiedLogEntry(v)
	require.True(t, ok)
	require.True(t, rec.Time.IsZero())
}

func TestParseWinEvent(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{
		"LogName": "System",
		"ProviderName": "Service Control Manager",
		"Id": 7034,
		"LevelDisplayName": "Error",
		"TimeCreated": "/Date(1772366400000)/",
		"Message": "The Print Spooler service terminated unexpectedly."
	}`)
	require.NoError(t, err)

	rec, ok := parseWinEvent("System", v)
	require.True(t, ok)
	require.Equal(t, events.OSWindows, rec.OS)
	require.Equal(t, "System", rec.Channel)
	require.Equal(t, "7034", rec.Fields["Id"])
	require.Equal(t, "Service Control Manager", rec.Fields["ProviderName"])
	require.True(t, rec.Time.Equal(time.UnixMilli(1772366400000).UTC()))
}

func TestParseWinTime(t *testing.T) {
	require.True(t, parseWinTime("/Date(1772366400000)/").Equal(time.UnixMilli(1772366400000).UTC()))
	require.True(t, parseWinTime("2026-02-20T14:03:22Z").Equal(
		time.Date(2026, 2, 20, 14, 3, 22, 0, time.UTC)))
	require.True(t, parseWinTime("2026-02-20T14:03:22.5-08:00").Equal(
		time.Date(2026, 2, 20, 22, 3, 22, 500000000, time.UTC)))
	require.True(t, parseWinTime("2026-02-20T14:03:22").Equal(
		time.Date(2026, 2, 20, 14, 3, 22, 0, time.UTC)))
	require.True(t, parseWinTime("garbage").IsZero())
	require.True(t, parseWinTime("/Date(notanumber)/").IsZero())
}

func TestOptionsMaxEvents(t *testing.T) {
	require.Equal(t, defaultMaxEvents, Options{}.maxEvents())
	require.Equal(t, defaultMaxEvents, Options{MaxEvents: -5}.maxEvents())
	require.Equal(t, 500, Options{MaxEvents: 500}.maxEvents())
	require.Equal(t, maxCollectable, Options{MaxEvents: 1 << 20}.maxEvents())
}

func TestFirstLine(t *testing.T) {
	require.Equal(t, "Get-WinEvent : Access is denied.",
		firstLine("  Get-WinEvent : Access is denied.\nAt line:1 char:1\n"))
	require.Equal(t, "single", firstLine("single"))
	require.Equal(t, "", firstLine("  \n\n"))
}
