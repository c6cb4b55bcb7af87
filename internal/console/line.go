package console

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Line is one line of the server's merged stdout/stderr.
type Line struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// MaxCommandLength bounds a single console command.
const MaxCommandLength = 512

// Match all ANSI/VT100 escape sequences including CSI, OSC, and other control sequences
var ansiEscapePattern = regexp.MustCompile(`\x1b(\[[0-9;?!]*[A-Za-z>hp]|\][^\x07]*\x07|\([B0]|[=>])`)

// SanitizeLine strips escape sequences and control characters, keeping tabs.
func SanitizeLine(line string) string {
	if line == "" {
		return ""
	}
	stripped := ansiEscapePattern.ReplaceAllString(line, "")
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, stripped)
}

// SanitizeCommand validates a console command before it is written to stdin.
// Anything that could inject a second line is rejected.
func SanitizeCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if len(command) > MaxCommandLength {
		return "", fmt.Errorf("command is too long")
	}
	if strings.ContainsAny(command, "\n\r\x00") {
		return "", fmt.Errorf("command contains line breaks")
	}
	if ansiEscapePattern.MatchString(command) {
		return "", fmt.Errorf("command contains escape sequences")
	}
	return command, nil
}
