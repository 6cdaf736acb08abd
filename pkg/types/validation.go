package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 64

// DirectKey returns the canonical conversation id of a direct chat.
// DirectKey(a, b) == DirectKey(b, a) for all a, b.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + DirectKeySeparator + b
}

// IsValidName checks usernames and room names: 1-64 characters, no
// surrounding whitespace, no control characters and no DirectKeySeparator.
// Without the separator every DirectKey maps back to exactly one pair of
// users and can never equal a room name.
func IsValidName(name string) bool {
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return false
	}
	if strings.TrimSpace(name) != name || strings.Contains(name, DirectKeySeparator) {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Validate checks the fields required by the envelope's type. Every failure
// wraps ErrMalformedEnvelope.
func (e *Envelope) Validate() error {
	switch e.Type {
	case EnvelopeJoin:
		if e.Username == "" {
			return malformed("join without username")
		}
		if e.Room == "" && e.Recipient == "" {
			return malformed("join without room or recipient")
		}
		return nil
	case EnvelopePublic, EnvelopePrivate:
		if e.Sender == "" {
			return malformed("missing sender")
		}
		if e.Timestamp == "" {
			return malformed("missing timestamp")
		}
		if (e.Text == "") == (e.Media == "") {
			return malformed("exactly one of text or media is required")
		}
		if e.Type == EnvelopePrivate && e.Recipient == "" {
			return malformed("private message without recipient")
		}
		if e.Status != "" && e.Status != StatusUploading && e.Status != StatusSent {
			return malformed(fmt.Sprintf("unknown status %q", e.Status))
		}
		return nil
	case "":
		return malformed("missing type")
	default:
		return malformed(fmt.Sprintf("unknown type %q", e.Type))
	}
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, reason)
}

// CompareTimestamps orders two client timestamps. RFC 3339 strings and
// integer epoch values are compared by value; anything else, or a mixed
// pair, falls back to plain string order.
func CompareTimestamps(a, b string) int {
	if ta, err := time.Parse(time.RFC3339Nano, a); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, b); err == nil {
			return ta.Compare(tb)
		}
	}
	if na, err := strconv.ParseInt(a, 10, 64); err == nil {
		if nb, err := strconv.ParseInt(b, 10, 64); err == nil {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}
