package viewer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/tunetrivia/internal/util"
)

type LogEntry struct {
	TS     time.Time      `json:"ts"`
	Level  string         `json:"level,omitempty"`
	Logger string         `json:"logger,omitempty"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// LogBuffer keeps recent log lines. It is written to with the JSON output
// of a go-log pipe reader; lines that are not JSON are kept verbatim.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{entries: util.NewRingBuffer[LogEntry](max)}
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.entries.Push(parseLogLine(line))
	}
	return len(p), nil
}

func parseLogLine(line string) LogEntry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{TS: time.Now(), Msg: line}
	}

	e := LogEntry{TS: time.Now()}
	if s, ok := raw["ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.TS = ts
		} else if ts, err := time.Parse("2006-01-02T15:04:05.000Z0700", s); err == nil {
			e.TS = ts
		}
	}
	e.Level, _ = raw["level"].(string)
	e.Logger, _ = raw["logger"].(string)
	e.Msg, _ = raw["msg"].(string)
	for _, k := range []string{"ts", "level", "logger", "msg", "caller"} {
		delete(raw, k)
	}
	if len(raw) > 0 {
		e.Fields = raw
	}
	return e
}

// Recent returns up to n entries, oldest first, optionally limited to one
// logger.
func (b *LogBuffer) Recent(n int, logger string) []LogEntry {
	all := b.entries.Snapshot()
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if logger == "" || e.Logger == logger {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// GET /api/logs?n=&logger=
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	writeJSON(w, b.Recent(n, r.URL.Query().Get("logger")))
}
