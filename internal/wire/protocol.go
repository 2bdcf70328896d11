package wire

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// TokenOK terminates a successful exchange.
	TokenOK = "OK"
	// TokenError terminates a failed exchange.
	TokenError = "ERROR"
	// CommandStop asks the daemon to stop accepting work and drain.
	CommandStop = "STOP"
	// CommandStatus asks the daemon for one JSON status line.
	CommandStatus = "STATUS"

	// MaxRequestSize bounds the single read a request is parsed from.
	MaxRequestSize = 4096
)

var (
	// ErrEmptyRequest reports a connection that sent nothing usable.
	ErrEmptyRequest = errors.New("empty request")
	// ErrTerminalError reports that the daemon answered ERROR.
	ErrTerminalError = errors.New("daemon reported ERROR")
	// ErrNoTerminal reports a connection closed before OK or ERROR arrived.
	ErrNoTerminal = errors.New("connection closed before terminal response")
)

// Kind classifies a parsed request.
type Kind int

const (
	KindSubmit Kind = iota
	KindStop
	KindStatus
)

func (k Kind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindStatus:
		return "status"
	default:
		return "submit"
	}
}

// Request is a decoded client request.
type Request struct {
	Kind     Kind
	Location string
}

// ReadRequest performs exactly one read of up to MaxRequestSize bytes and
// decodes it. Surrounding whitespace, including a trailing newline, is ignored.
// Callers bound the read with a connection deadline.
func ReadRequest(r io.Reader) (Request, error) {
	buf := make([]byte, MaxRequestSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return Request{}, ErrEmptyRequest
		}
		return Request{}, fmt.Errorf("read request: %w", err)
	}
	return ParseRequest(string(buf[:n]))
}

// ParseRequest decodes a raw request payload.
func ParseRequest(raw string) (Request, error) {
	payload := strings.TrimSpace(raw)
	switch payload {
	case "":
		return Request{}, ErrEmptyRequest
	case CommandStop:
		return Request{Kind: KindStop}, nil
	case CommandStatus:
		return Request{Kind: KindStatus}, nil
	default:
		return Request{Kind: KindSubmit, Location: payload}, nil
	}
}

// IsTerminal reports whether a message line ends an exchange.
func IsTerminal(line string) bool {
	return line == TokenOK || line == TokenError
}
