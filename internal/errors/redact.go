package errors

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// credentialPatterns match common credential shapes that can leak through
// vendor error bodies or subprocess output.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization:\s*)(bearer\s+)?\S+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`gsk_[A-Za-z0-9]{8,}`),
	regexp.MustCompile(`(AKIA|ASIA)[A-Z0-9]{16}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token)(["']?\s*[:=]\s*["']?)[^\s"',]+`),
}

// Redact removes the given secrets and known credential shapes from s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	for i, re := range credentialPatterns {
		switch i {
		case 0:
			s = re.ReplaceAllString(s, "${1}"+redacted)
		case 5:
			s = re.ReplaceAllString(s, "${1}${2}"+redacted)
		default:
			s = re.ReplaceAllString(s, redacted)
		}
	}
	return s
}

// redactedError carries only the scrubbed text of another error.
type redactedError struct {
	msg string
}

func (r *redactedError) Error() string { return r.msg }

// RedactedError returns an error whose message is err's message with
// secrets removed. The result does not unwrap to err.
func RedactedError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	return &redactedError{msg: Redact(err.Error(), secrets...)}
}
