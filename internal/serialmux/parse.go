package serialmux

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Line types produced by the bridge.
const (
	EventTypeObservation = "observation"
	EventTypeAck         = "ack"
	EventTypeError       = "error"
	EventTypeUnknown     = "unknown"
)

// Commands understood by the bridge firmware.
const (
	CommandReset     = "RESET"
	CommandStreamOn  = "STREAM ON"
	CommandGrab      = "ARM GRAB"
	CommandReleaseFn = "ARM RELEASE %d"
	CommandSayFn     = "SAY %d %s"
	CommandRotateFn  = "DRIVE ROTATE %.4f %.4f"
)

// ClassifyPayload inspects a line and returns its event type token.
// Observations are JSON objects; acknowledgements start with "ok" and
// failures with "err".
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	switch {
	case strings.HasPrefix(p, "{"):
		return EventTypeObservation
	case p == "ok" || strings.HasPrefix(p, "ok "):
		return EventTypeAck
	case p == "err" || strings.HasPrefix(p, "err "):
		return EventTypeError
	}
	return EventTypeUnknown
}

// AckFor reports whether line acknowledges (ok) or rejects (err) command.
// The bridge echoes the command verb and subject, e.g. "ok ARM GRAB".
func AckFor(line, command string) (matched bool, failed bool) {
	verb := commandKey(command)
	p := strings.TrimSpace(line)
	switch ClassifyPayload(p) {
	case EventTypeAck:
		return strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(p, "ok")), verb), false
	case EventTypeError:
		return strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(p, "err")), verb), true
	}
	return false, false
}

// commandKey returns the verb of a command plus its subject when the
// second word is alphabetic: "ARM GRAB", "DRIVE ROTATE", but "SAY".
func commandKey(command string) string {
	f := strings.Fields(command)
	if len(f) == 0 {
		return ""
	}
	if len(f) > 1 && isWord(f[1]) {
		return f[0] + " " + f[1]
	}
	return f[0]
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// SayCommand formats a speech command with the hold in milliseconds.
// Newlines in text are flattened so the command stays on one line.
func SayCommand(text string, hold time.Duration) string {
	text = strings.Join(strings.Fields(text), " ")
	return fmt.Sprintf(CommandSayFn, hold.Milliseconds(), text)
}

// ReleaseCommand formats the arm release command for the coin numbered count.
func ReleaseCommand(count int) string {
	return fmt.Sprintf(CommandReleaseFn, count)
}

// RotateCommand formats an in-place rotation of angle radians at speed rad/s.
func RotateCommand(angle, speed float64) string {
	return fmt.Sprintf(CommandRotateFn, angle, speed)
}
