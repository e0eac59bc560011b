package collect

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"

	"hermescore/internal/events"
)

// WindowsCollector reads the Windows Event Log through Get-WinEvent, one
// invocation per configured channel.
type WindowsCollector struct {
	parsers fastjson.ParserPool
}

var defaultWindowsChannels = []string{"Application", "System", "Security"}

func (c *WindowsCollector) Collect(ctx context.Context, r Range, opts Options) (Result, error) {
	max := opts.maxEvents()
	channels := opts.Channels
	if len(channels) == 0 {
		channels = defaultWindowsChannels
	}

	type channelResult struct {
		records []events.RawRecord
		err     error
	}
	results := make([]channelResult, len(channels))

	var g errgroup.Group
	for i, channel := range channels {
		i, channel := i, channel
		g.Go(func() error {
			recs, err := c.collectChannel(ctx, channel, r, max)
			results[i] = channelResult{records: recs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	// Merge in configured channel order, preserving each channel's native
	// return order, so truncation at max is reproducible.
	var res Result
	failed := 0
	for i, channel := range channels {
		if results[i].err != nil {
			failed++
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("channel %s: %v", channel, results[i].err))
			continue
		}
		res.Records = append(res.Records, results[i].records...)
	}
	if len(res.Records) > max {
		res.Records = res.Records[:max]
	}
	if len(res.Records) == 0 && failed == len(channels) && failed > 0 {
		return Result{}, fmt.Errorf("all event log channels failed: %s", strings.Join(res.Warnings, "; "))
	}
	return res, nil
}

func (c *WindowsCollector) collectChannel(ctx context.Context, channel string, r Range, max int) ([]events.RawRecord, error) {
	var sb strings.Builder
	sb.WriteString("$ErrorActionPreference = 'Stop'\n")
	fmt.Fprintf(&sb, "$filter = @{LogName = '%s'}\n", strings.ReplaceAll(channel, "'", "''"))
	if !r.From.IsZero() {
		fmt.Fprintf(&sb, "$filter.StartTime = [datetime]'%s'\n", localTimeArg(r.From))
	}
	if !r.To.IsZero() {
		fmt.Fprintf(&sb, "$filter.EndTime = [datetime]'%s'\n", localTimeArg(r.To))
	}
	fmt.Fprintf(&sb, "$events = Get-WinEvent -FilterHashtable $filter -MaxEvents %d |\n", max)
	sb.WriteString("  Select-Object LogName, ProviderName, Id, LevelDisplayName, TimeCreated, Message, RecordId\n")
	sb.WriteString("if ($null -eq $events) { '[]' } else { $events | ConvertTo-Json -Depth 5 -Compress }\n")

	out, err := exec.CommandContext(ctx, "powershell",
		"-NoProfile", "-NonInteractive", "-Command", sb.String()).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Get-WinEvent exits non-zero both for access denied (Security
		// needs elevation) and for an empty result set; the caller treats
		// either as a channel-level warning.
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s", firstLine(string(ee.Stderr)))
		}
		return nil, err
	}

	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(out)
	if err != nil {
		return nil, fmt.Errorf("parse Get-WinEvent output: %w", err)
	}

	var records []events.RawRecord
	appendEntry := func(entry *fastjson.Value) {
		if rec, ok := parseWinEvent(channel, entry); ok {
			records = append(records, rec)
		}
	}
	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		for _, entry := range arr {
			if len(records) >= max {
				break
			}
			appendEntry(entry)
		}
	} else if v.Type() == fastjson.TypeObject {
		appendEntry(v)
	}
	return records, nil
}

func parseWinEvent(channel string, v *fastjson.Value) (events.RawRecord, bool) {
	if v.Type() != fastjson.TypeObject {
		return events.RawRecord{}, false
	}
	fields := map[string]string{}
	for _, key := range []string{"LogName", "ProviderName", "LevelDisplayName", "Message"} {
		if s := v.GetStringBytes(key); len(s) > 0 {
			fields[key] = string(s)
		}
	}
	if id := v.Get("Id"); id != nil && id.Type() == fastjson.TypeNumber {
		fields["Id"] = strconv.FormatInt(id.GetInt64(), 10)
	}

	var ts time.Time
	if raw := v.GetStringBytes("TimeCreated"); len(raw) > 0 {
		ts = parseWinTime(string(raw))
	}
	return events.RawRecord{
		OS:      events.OSWindows,
		Channel: channel,
		Time:    ts,
		Fields:  fields,
		Payload: append([]byte(nil), v.MarshalTo(nil)...),
	}, true
}

var psDateRe = regexp.MustCompile(`^/Date\((\d+)\)/$`)

// parseWinTime accepts both ConvertTo-Json date forms: the classic
// "/Date(ms)/" wrapper and ISO-8601.
func parseWinTime(raw string) time.Time {
	if m := psDateRe.FindStringSubmatch(raw); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
