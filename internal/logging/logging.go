// Package logging wraps the standard library's log package with the
// key=value field style the original Python service's
// logger.info(msg, extra_data={...}) calls use, translated into a Go
// idiom: a small field map carried alongside the message rather than a
// structured-logging library, since none of the corpus's go.mod files
// pull one in. Each line is "LEVEL: component: message" — the
// teacher's "executor:", "queue:" tag convention, preceded by the
// level — followed by the sorted key=value fields.
package logging

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Fields is an ordered-on-output set of structured log fields.
type Fields map[string]any

// Logger prefixes every line with a component tag, matching the
// teacher's log.Printf("component: message", ...) convention.
type Logger struct {
	component string
}

// New returns a Logger tagging every line with component.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(level, msg string, fields Fields) {
	if len(fields) == 0 {
		log.Printf("%s: %s: %s", level, l.component, msg)
		return
	}
	log.Printf("%s: %s: %s %s", level, l.component, msg, formatFields(fields))
}

func (l *Logger) Debug(msg string, fields Fields) { l.log("DEBUG", msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.log("INFO", msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log("WARN", msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.log("ERROR", msg, fields) }

func formatFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
