package pap

import (
	"bufio"
	"errors"
	"io"

	"gopap/util"
)

// chunk is one bounded read from the job.
type chunk struct {
	data []byte
	eof  bool // no bytes follow this chunk
	err  error
	buf  *[]byte
}

func (c *chunk) release() {
	if c.buf != nil {
		util.PutBuf(c.buf)
		c.buf = nil
	}
}

// JobStream reads the job on demand: one read of at most window bytes
// per Request, so at most one chunk exists at a time.
type JobStream struct {
	r      *bufio.Reader
	window int
	demand chan struct{}
	ready  chan *chunk
	done   chan struct{}

	inFlight bool
	eofRead  bool
}

// NewJobStream wraps r.  Call Close to stop the reader goroutine.
func NewJobStream(r io.Reader, window int) *JobStream {
	j := &JobStream{
		r:      bufio.NewReaderSize(r, window),
		window: window,
		demand: make(chan struct{}, 1),
		ready:  make(chan *chunk, 1),
		done:   make(chan struct{}),
	}
	go j.loop()
	return j
}

// Request starts a read unless one is in flight or input is exhausted,
// and returns the channel the chunk will arrive on.  It returns nil
// once EOF has been read, which blocks forever in a select.
func (j *JobStream) Request() <-chan *chunk {
	if j.eofRead {
		return nil
	}
	if !j.inFlight {
		j.inFlight = true
		j.demand <- struct{}{}
	}
	return j.ready
}

// received must be called with each chunk taken from Request's channel.
func (j *JobStream) received(c *chunk) {
	j.inFlight = false
	if c.eof {
		j.eofRead = true
	}
}

// EOFRead reports whether the last chunk has been read.
func (j *JobStream) EOFRead() bool { return j.eofRead }

// Close stops the reader goroutine.  A read blocked in the underlying
// reader finishes on its own.
func (j *JobStream) Close() {
	select {
	case <-j.done:
	default:
		close(j.done)
	}
}

func (j *JobStream) loop() {
	for {
		select {
		case <-j.done:
			return
		case <-j.demand:
		}

		c := j.read()
		select {
		case j.ready <- c:
		case <-j.done:
			c.release()
			return
		}
		if c.eof || c.err != nil {
			return
		}
	}
}

func (j *JobStream) read() *chunk {
	c := &chunk{}
	var buf []byte
	if j.window <= util.DefaultBufSize {
		c.buf = util.GetBuf()
		buf = (*c.buf)[:j.window]
	} else {
		buf = make([]byte, j.window)
	}

	n, err := j.r.Read(buf)
	c.data = buf[:n]
	switch {
	case errors.Is(err, io.EOF):
		c.eof = true
	case err != nil:
		c.err = err
	default:
		// Look ahead so the final chunk itself carries EOF.
		if _, perr := j.r.Peek(1); errors.Is(perr, io.EOF) {
			c.eof = true
		}
	}
	return c
}
