package logger

import (
	"io"
	"regexp"
)

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

var defaultRedactions = []string{
	// Anthropic before OpenAI: both start with sk-
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`(?i)api[_-]?key["\s:=]+[^\s",}]+`,
	`(?i)password["\s:=]+[^\s"]+`,
	`(?i)token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`(?i)secret["\s:=]+[^\s"]+`,
	`AKIA[0-9A-Z]{16}`,
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range defaultRedactions {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success even when redaction changed the length,
// since zerolog treats short writes as errors.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
