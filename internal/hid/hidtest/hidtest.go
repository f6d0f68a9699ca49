// Package hidtest provides scripted in-memory sessions and openers for tests
// of code built on package hid.
package hidtest

import (
	"errors"
	"sync"

	"github.com/jamesprial/upsmon/internal/hid"
)

// ErrClosed is returned by reads on a closed Session.
var ErrClosed = errors.New("hidtest: session closed")

// Compile-time interface checks.
var (
	_ hid.Session = (*Session)(nil)
	_ hid.Opener  = (*Opener)(nil)
)

// ReadFunc produces the response to a read of index.
type ReadFunc func(index int) (string, error)

// Frames returns a ReadFunc that serves fixed strings per index. Indices not
// in the map read as an empty string.
func Frames(frames map[int]string) ReadFunc {
	return func(index int) (string, error) {
		return frames[index], nil
	}
}

// Session is a scripted hid.Session that records every read.
type Session struct {
	mu     sync.Mutex
	read   ReadFunc
	reads  []int
	closed bool
}

// NewSession returns a Session answering reads with read.
func NewSession(read ReadFunc) *Session {
	return &Session{read: read}
}

// GetIndexedString records the read and delegates to the ReadFunc.
func (s *Session) GetIndexedString(index int) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.reads = append(s.reads, index)
	read := s.read
	s.mu.Unlock()
	return read(index)
}

// Close marks the session closed. Closing twice is not an error.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reads returns a copy of the indices read so far, in order.
func (s *Session) Reads() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.reads...)
}

// Count returns how many times index was read.
func (s *Session) Count(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, i := range s.reads {
		if i == index {
			n++
		}
	}
	return n
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Opener is a scripted hid.Opener. Next is called with the 1-based attempt
// number and decides the outcome of each Open.
type Opener struct {
	Next func(attempt int) (hid.Session, error)

	mu       sync.Mutex
	attempts int
	opened   []hid.Session
}

// Always returns an Opener that hands out a fresh Session per Open, each
// answering reads with read.
func Always(read ReadFunc) *Opener {
	return &Opener{Next: func(int) (hid.Session, error) {
		return NewSession(read), nil
	}}
}

// Absent returns an Opener that always fails with hid.ErrNotFound.
func Absent() *Opener {
	return &Opener{Next: func(int) (hid.Session, error) {
		return nil, hid.ErrNotFound
	}}
}

// Open increments the attempt counter and delegates to Next.
func (o *Opener) Open() (hid.Session, error) {
	o.mu.Lock()
	o.attempts++
	attempt := o.attempts
	o.mu.Unlock()

	sess, err := o.Next(attempt)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.opened = append(o.opened, sess)
	o.mu.Unlock()
	return sess, nil
}

// Attempts returns the number of Open calls so far.
func (o *Opener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Opened returns the sessions handed out so far.
func (o *Opener) Opened() []hid.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]hid.Session(nil), o.opened...)
}

// AllClosed reports whether every handed-out *Session has been closed.
func (o *Opener) AllClosed() bool {
	for _, s := range o.Opened() {
		if fs, ok := s.(*Session); ok && !fs.Closed() {
			return false
		}
	}
	return true
}
