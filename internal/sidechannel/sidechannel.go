// Package sidechannel serves out-of-band queries about a running job
// over a unix socket.  Each request is one line naming a command; each
// answer is one line, "<STATUS>[ <data>]".
//
// The server only transports requests: answers come from whoever reads
// [Server.Requests], normally the PAP dispatch loop.
package sidechannel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gopap/util"
)

// Command names a side-channel query.
type Command string

const (
	GetBidi     Command = "GET_BIDI"
	GetState    Command = "GET_STATE"
	GetDeviceID Command = "GET_DEVICE_ID"
	DrainOutput Command = "DRAIN_OUTPUT"
	SoftReset   Command = "SOFT_RESET"
)

// Status is the outcome of a query.
type Status string

const (
	StatusOK             Status = "OK"
	StatusNotImplemented Status = "NOT_IMPLEMENTED"
	StatusTooBig         Status = "TOO_BIG"
	StatusBadMessage     Status = "BAD_MESSAGE"
	StatusTimeout        Status = "TIMEOUT"
	StatusNone           Status = "NONE"
)

// Response answers one Request.
type Response struct {
	Status Status
	Data   string
}

func (r Response) String() string {
	if r.Data == "" {
		return string(r.Status)
	}
	return string(r.Status) + " " + r.Data
}

// Request is one query waiting for an answer.  Exactly one Response
// must be sent on Reply; the channel is buffered.
type Request struct {
	Command Command
	Reply   chan<- Response
}

// maxLine bounds one request line.
const maxLine = 256

// replyTimeout is how long a client waits for the job to answer.
const replyTimeout = 5 * time.Second

// Server accepts side-channel clients on a unix socket.
type Server struct {
	ln       net.Listener
	path     string
	requests chan Request
	logger   *util.Logger
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen creates the socket at path, replacing a stale one.
func Listen(path string, logger *util.Logger) (*Server, error) {
	if logger == nil {
		logger = util.Discard()
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path) //nolint:errcheck
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("side channel %s: %w", path, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ln:       ln,
		path:     path,
		requests: make(chan Request),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Requests delivers queries to answer.
func (s *Server) Requests() <-chan Request { return s.requests }

// Addr returns the socket path.
func (s *Server) Addr() string { return s.path }

// Serve accepts clients until ctx ends or Close is called.  Open
// client connections are closed before it returns.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.cancel()
		s.ln.Close()
	})
	defer stop()
	ctx = s.ctx

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.wg.Wait()
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("side channel accept: %w", err)
		}
		s.logger.Debug("side channel client connected")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Close stops accepting, drops clients and removes the socket file.
func (s *Server) Close() error {
	s.cancel()
	err := s.ln.Close()
	os.Remove(s.path) //nolint:errcheck
	if isClosed(err) {
		return nil
	}
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, maxLine), maxLine)
	w := bufio.NewWriter(conn)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		resp := s.dispatch(ctx, Command(strings.ToUpper(line)))
		fmt.Fprintln(w, resp.String())
		if err := w.Flush(); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(w, Response{Status: StatusTooBig}.String())
		w.Flush() //nolint:errcheck
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	reply := make(chan Response, 1)
	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()

	select {
	case s.requests <- Request{Command: cmd, Reply: reply}:
	case <-timer.C:
		return Response{Status: StatusTimeout}
	case <-ctx.Done():
		return Response{Status: StatusNone}
	}

	select {
	case resp := <-reply:
		return resp
	case <-timer.C:
		return Response{Status: StatusTimeout}
	case <-ctx.Done():
		return Response{Status: StatusNone}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
