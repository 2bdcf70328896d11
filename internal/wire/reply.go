package wire

import (
	"errors"
	"io"
	"sync"
)

// ErrReplyClosed is returned by writes after the terminal token was sent.
var ErrReplyClosed = errors.New("reply already finished")

// Reply is the daemon side of one request. All writes are serialised; after
// Finish the underlying writer is closed and further writes fail with
// ErrReplyClosed. A write error (client went away) is remembered and later
// writes become no-ops so processing of the item can continue.
type Reply struct {
	mu       sync.Mutex
	w        io.Writer
	finished bool
	writeErr error
}

// NewReply wraps w. If w is an io.Closer it is closed by Finish and Close.
func NewReply(w io.Writer) *Reply {
	return &Reply{w: w}
}

// Info writes one informational line.
func (r *Reply) Info(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(msg)
}

// Finish writes the terminal token (OK when ok, ERROR otherwise) and closes
// the reply. Only the first call has any effect.
func (r *Reply) Finish(ok bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrReplyClosed
	}
	token := TokenError
	if ok {
		token = TokenOK
	}
	err := r.writeLocked(token)
	r.finished = true
	if closeErr := r.closeLocked(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the reply without sending a terminal token.
func (r *Reply) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return nil
	}
	r.finished = true
	return r.closeLocked()
}

// Finished reports whether a terminal token was sent or the reply was closed.
func (r *Reply) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Reply) writeLocked(msg string) error {
	if r.finished {
		return ErrReplyClosed
	}
	if r.writeErr != nil {
		return r.writeErr
	}
	if _, err := io.WriteString(r.w, msg+"\n"); err != nil {
		r.writeErr = err
		return err
	}
	return nil
}

func (r *Reply) closeLocked() error {
	if closer, ok := r.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
