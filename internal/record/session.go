package record

import (
	"strconv"
	"strings"
	"time"
)

const (
	// PowerOnToken marks the status cell of a line that opens a session.
	PowerOnToken = "POWER ON"
	// SessionFieldCount is the arity of a power-on line.
	SessionFieldCount = 4
)

// Session marks the start of one recording session.
type Session struct {
	Start time.Time
	ID    int
}

// IsPowerOn reports whether the split line has the power-on shape.
func IsPowerOn(fields []string) bool {
	return len(fields) == SessionFieldCount && strings.Contains(fields[3], PowerOnToken)
}

// ParseSession builds a marker from a power-on line: the 2nd and 3rd cells
// carry the date and time, the 4th carries the status text with an optional
// numeric session id.
func ParseSession(fields []string) (Session, error) {
	key, err := ParseKey(fields[1], fields[2])
	if err != nil {
		return Session{}, err
	}
	return Session{Start: key.Time(), ID: sessionID(fields[3])}, nil
}

// sessionID pulls the digits out of the status cell. A cell without digits
// yields 0; the start instant then identifies the session on its own.
func sessionID(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	id, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return id
}
