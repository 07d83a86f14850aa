package memnative

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/objclass/goclass/types"
)

// LogLine is one line written to the native log.
type LogLine struct {
	Level   int
	Message string
}

// logSink keeps a bounded backlog of log lines. Once the backlog is full new
// lines are dropped and counted, the way a congested daemon log would.
type logSink struct {
	mu      sync.Mutex
	backlog int
	lines   []LogLine
	dropped uint64
	logger  zerolog.Logger
}

func (s *logSink) write(level int, msg string) {
	s.mu.Lock()
	if len(s.lines) >= s.backlog {
		s.dropped++
		s.mu.Unlock()
		return
	}
	s.lines = append(s.lines, LogLine{Level: level, Message: msg})
	s.mu.Unlock()

	s.logger.WithLevel(zerologLevel(level)).Int("cls_level", level).Msg(msg)
}

func zerologLevel(level int) zerolog.Level {
	switch {
	case level <= types.LogLevelError:
		return zerolog.InfoLevel
	case level <= types.LogLevelInfo:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Log implements goclass.Native.
func (r *Runtime) Log(level int, msg string) {
	r.sink.write(level, msg)
}

// Logs returns the lines currently in the backlog.
func (r *Runtime) Logs() []LogLine {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	out := make([]LogLine, len(r.sink.lines))
	copy(out, r.sink.lines)
	return out
}

// Dropped returns how many lines were dropped because the backlog was full.
func (r *Runtime) Dropped() uint64 {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	return r.sink.dropped
}

// ResetLogs empties the backlog.
func (r *Runtime) ResetLogs() {
	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	r.sink.lines = nil
	r.sink.dropped = 0
}
