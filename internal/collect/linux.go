package collect

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"hermescore/internal/events"
)

// LinuxCollector reads the systemd journal through journalctl's JSON output.
type LinuxCollector struct {
	parsers fastjson.ParserPool
}

var journalFields = []string{
	"MESSAGE", "SYSLOG_IDENTIFIER", "_COMM", "_SYSTEMD_UNIT",
	"_TRANSPORT", "_EXE", "PRIORITY", "SYSLOG_PRIORITY",
}

func (c *LinuxCollector) Collect(ctx context.Context, r Range, opts Options) (Result, error) {
	max := opts.maxEvents()

	args := []string{"--no-pager", "-o", "json"}
	if !r.From.IsZero() {
		args = append(args, "--since", localTimeArg(r.From))
	}
	if !r.To.IsZero() {
		args = append(args, "--until", localTimeArg(r.To))
	}
	args = append(args, "-n", strconv.Itoa(max))

	cmd := exec.CommandContext(ctx, "journalctl", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("journalctl stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("run journalctl: %w", err)
	}

	var res Result
	parseFailures := 0

	p := c.parsers.Get()
	defer c.parsers.Put(p)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, ok := parseJournalLine(p, line)
		if !ok {
			parseFailures++
			continue
		}
		res.Records = append(res.Records, rec)
		if len(res.Records) >= max {
			_ = cmd.Process.Kill()
			break
		}
	}
	if err := scanner.Err(); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("journalctl stdout read failure: %v", err))
	}
	if parseFailures > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Skipped %d non-JSON or malformed journal entries.", parseFailures))
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && len(res.Records) == 0 {
			return Result{}, fmt.Errorf("journalctl: %w", ctxErr)
		}
		if len(res.Records) == 0 {
			return Result{}, fmt.Errorf("journalctl: %w", err)
		}
		// Expected after the early Kill above; anything else is degraded
		// output worth surfacing.
		if _, killed := err.(*exec.ExitError); !killed || len(res.Records) < max {
			res.Warnings = append(res.Warnings, fmt.Sprintf("journalctl exited abnormally: %v", err))
		}
	}
	return res, nil
}

func parseJournalLine(p *fastjson.Parser, line []byte) (events.RawRecord, bool) {
	v, err := p.ParseBytes(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		return events.RawRecord{}, false
	}
	fields := make(map[string]string, len(journalFields))
	for _, key := range journalFields {
		if s := v.GetStringBytes(key); len(s) > 0 {
			fields[key] = string(s)
		}
	}
	rec := events.RawRecord{
		OS:      events.OSLinux,
		Channel: "journal",
		Time:    journalTimestamp(v),
		Fields:  fields,
		Payload: append([]byte(nil), line...),
	}
	return rec, true
}

// journalTimestamp reads the realtime timestamp, which the journal encodes
// as microseconds since the epoch, either as a string or a number.
func journalTimestamp(v *fastjson.Value) time.Time {
	for _, key := range []string{"__REALTIME_TIMESTAMP", "_SOURCE_REALTIME_TIMESTAMP"} {
		raw := v.Get(key)
		if raw == nil {
			continue
		}
		var micros int64
		switch raw.Type() {
		case fastjson.TypeString:
			n, err := strconv.ParseInt(string(raw.GetStringBytes()), 10, 64)
			if err != nil {
				continue
			}
			micros = n
		case fastjson.TypeNumber:
			micros = raw.GetInt64()
		default:
			continue
		}
		return time.Unix(micros/1_000_000, (micros%1_000_000)*1000).UTC()
	}
	return time.Time{}
}
