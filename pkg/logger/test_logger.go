package logger

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// LogMessage is one entry captured by a TestLogger
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

// TestLogger records entries in memory. Loggers derived with WithField or
// WithError append to the same record as their parent.
type TestLogger struct {
	record *record
	fields map[string]interface{}
	err    error
}

type record struct {
	sync.Mutex
	entries []LogMessage
}

func NewTestLogger() *TestLogger {
	return &TestLogger{record: &record{}}
}

func (l *TestLogger) add(level, msg string, extra map[string]interface{}) {
	fields := maps.Clone(l.fields)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	maps.Copy(fields, extra)

	l.record.Lock()
	l.record.entries = append(l.record.entries, LogMessage{Level: level, Message: msg, Fields: fields, Error: l.err})
	l.record.Unlock()
}

func (l *TestLogger) child(extra map[string]interface{}, err error) *TestLogger {
	fields := maps.Clone(l.fields)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	maps.Copy(fields, extra)
	return &TestLogger{record: l.record, fields: fields, err: err}
}

func (l *TestLogger) Debug(msg string) { l.add("DEBUG", msg, nil) }
func (l *TestLogger) Info(msg string)  { l.add("INFO", msg, nil) }
func (l *TestLogger) Warn(msg string)  { l.add("WARN", msg, nil) }
func (l *TestLogger) Error(msg string) { l.add("ERROR", msg, nil) }
func (l *TestLogger) Fatal(msg string) { l.add("FATAL", msg, nil) }

func (l *TestLogger) DebugWithFields(msg string, f map[string]interface{}) { l.add("DEBUG", msg, f) }
func (l *TestLogger) InfoWithFields(msg string, f map[string]interface{})  { l.add("INFO", msg, f) }
func (l *TestLogger) WarnWithFields(msg string, f map[string]interface{})  { l.add("WARN", msg, f) }
func (l *TestLogger) ErrorWithFields(msg string, f map[string]interface{}) { l.add("ERROR", msg, f) }
func (l *TestLogger) FatalWithFields(msg string, f map[string]interface{}) { l.add("FATAL", msg, f) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.child(map[string]interface{}{key: value}, l.err)
}
func (l *TestLogger) WithFields(f map[string]interface{}) Logger { return l.child(f, l.err) }
func (l *TestLogger) WithError(err error) Logger                 { return l.child(nil, err) }
func (l *TestLogger) WithContext(context.Context) Logger         { return l }
func (l *TestLogger) GetZerolog() *zerolog.Logger                { return nil }

// GetMessages returns a snapshot of everything recorded so far
func (l *TestLogger) GetMessages() []LogMessage {
	l.record.Lock()
	defer l.record.Unlock()
	return slices.Clone(l.record.entries)
}

func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	return slices.DeleteFunc(l.GetMessages(), func(m LogMessage) bool { return m.Level != level })
}

func (l *TestLogger) HasMessage(text string) bool {
	return slices.ContainsFunc(l.GetMessages(), func(m LogMessage) bool { return m.Message == text })
}

func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

func (l *TestLogger) Clear() {
	l.record.Lock()
	l.record.entries = nil
	l.record.Unlock()
}
