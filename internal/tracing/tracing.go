package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RedactedPlaceholder replaces sensitive values in logs and span data.
const RedactedPlaceholder = "[REDACTED]"

// KeywordSet builds the lowercase lookup set used by the redaction helpers.
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// RedactStringMap returns a copy of input where every value whose key
// contains a keyword (case-insensitive) is replaced, so API_TOKEN is caught by
// "token". The input map is not modified.
func RedactStringMap(input map[string]string, keywords map[string]struct{}) map[string]string {
	if len(keywords) == 0 || input == nil {
		return input
	}
	output := make(map[string]string, len(input))
	for k, v := range input {
		if sensitiveKey(k, keywords) {
			output[k] = RedactedPlaceholder
		} else {
			output[k] = v
		}
	}
	return output
}

// RedactAttributes is RedactStringMap for span attributes. Matching values
// are replaced by a string attribute whatever their original type.
func RedactAttributes(attrs []attribute.KeyValue, keywords map[string]struct{}) []attribute.KeyValue {
	if len(keywords) == 0 || len(attrs) == 0 {
		return attrs
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if sensitiveKey(string(kv.Key), keywords) {
			out = append(out, attribute.String(string(kv.Key), RedactedPlaceholder))
			continue
		}
		out = append(out, kv)
	}
	return out
}

func sensitiveKey(key string, keywords map[string]struct{}) bool {
	lower := strings.ToLower(key)
	for keyword := range keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// RedactSecretsInString looks for keywords line by line and replaces
// everything after the first keyword hit (and its separators) on that line.
// It is a heuristic: it catches `token=abc` and `Password: abc`, not every format.
func RedactSecretsInString(input string, keywords map[string]struct{}) string {
	if len(keywords) == 0 || input == "" {
		return input
	}

	redacted := false
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		for keyword := range keywords {
			idx := strings.Index(lower, keyword)
			if idx == -1 {
				continue
			}
			start := idx + len(keyword)
			for start < len(line) && strings.ContainsRune(":= '\"", rune(line[start])) {
				start++
			}
			if start < len(line) {
				lines[i] = line[:start] + RedactedPlaceholder
				redacted = true
				break
			}
		}
	}
	if !redacted {
		return input
	}
	return strings.Join(lines, "\n")
}

// RecordErrorWithContext records err on span with a redacted message and
// marks the span as failed. Nil errors and non-recording spans are ignored.
func RecordErrorWithContext(span oteltrace.Span, err error, keywords map[string]struct{}) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	msg := RedactSecretsInString(err.Error(), keywords)
	span.RecordError(errors.New(msg), oteltrace.WithStackTrace(true))
	span.SetStatus(codes.Error, msg)
}
