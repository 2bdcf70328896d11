package wire

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Send writes a single request line.
func Send(w io.Writer, payload string) error {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ErrEmptyRequest
	}
	if _, err := io.WriteString(w, payload+"\n"); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// ReadResponses reads message lines until a terminal token. Every non-terminal
// line is passed to onInfo. It returns nil for OK, ErrTerminalError for ERROR,
// and ErrNoTerminal when the stream ends first.
func ReadResponses(r io.Reader, onInfo func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch line {
		case TokenOK:
			return nil
		case TokenError:
			return ErrTerminalError
		case "":
			continue
		}
		if onInfo != nil {
			onInfo(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	return ErrNoTerminal
}
