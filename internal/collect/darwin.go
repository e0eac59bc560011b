package collect

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"hermescore/internal/events"
)

// MacosCollector reads the unified log through `log show`.
type MacosCollector struct {
	parsers fastjson.ParserPool
}

var unifiedLogFields = []string{
	"subsystem", "category", "process", "sender",
	"messageType", "level", "eventMessage", "message", "formattedMessage",
}

// unified log timestamps look like "2026-02-20 14:03:22.123456-0800".
const unifiedLogTimeLayout = "2006-01-02 15:04:05.000000-0700"

func (c *MacosCollector) Collect(ctx context.Context, r Range, opts Options) (Result, error) {
	max := opts.maxEvents()

	args := []string{"show", "--style", "json"}
	if !r.From.IsZero() {
		args = append(args, "--start", localTimeArg(r.From))
	}
	if !r.To.IsZero() {
		args = append(args, "--end", localTimeArg(r.To))
	}

	out, err := exec.CommandContext(ctx, "log", args...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("macOS log collector: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("run macOS log collector: %w", err)
	}

	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(out)
	if err != nil {
		return Result{}, fmt.Errorf("parse macOS log output: %w", err)
	}

	var res Result
	parseFailures := 0

	entries, err := v.Array()
	if err != nil {
		return Result{}, fmt.Errorf("macOS log output is not a JSON array: %w", err)
	}
	for _, entry := range entries {
		if len(res.Records) >= max {
			break
		}
		rec, ok := parseUnifiedLogEntry(entry)
		if !ok {
			parseFailures++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if parseFailures > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Skipped %d malformed unified log entries.", parseFailures))
	}
	return res, nil
}

func parseUnifiedLogEntry(v *fastjson.Value) (events.RawRecord, bool) {
	if v.Type() != fastjson.TypeObject {
		return events.RawRecord{}, false
	}
	fields := make(map[string]string, len(unifiedLogFields)+1)
	for _, key := range unifiedLogFields {
		if s := v.GetStringBytes(key); len(s) > 0 {
			fields[key] = string(s)
		}
	}
	if id := v.GetUint64("eventID"); id > 0 {
		fields["eventID"] = strconv.FormatUint(id, 10)
	}

	var ts time.Time
	if raw := v.GetStringBytes("timestamp"); len(raw) > 0 {
		if t, err := time.Parse(unifiedLogTimeLayout, string(raw)); err == nil {
			ts = t.UTC()
		}
	}
	return events.RawRecord{
		OS:      events.OSMacos,
		Channel: "unified",
		Time:    ts,
		Fields:  fields,
		Payload: append([]byte(nil), v.MarshalTo(nil)...),
	}, true
}
