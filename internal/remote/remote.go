// Package remote serves decode requests over a ZeroMQ REP socket.
//
// A request is a multipart message whose first frame names the command,
// optionally as a NUL-terminated C string. Every reply starts with a status
// frame holding 0x01 on success or 0x00 on failure; a failure carries the
// error text in the second frame.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	zmq "github.com/go-zeromq/zmq4"

	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/metrics"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/dissect"
)

// Protocol version announced by the version command.
const (
	VersionMajor = 1
	VersionMinor = 0
)

const (
	statusFailure byte = 0x00
	statusSuccess byte = 0x01
)

var (
	ErrUnknownCommand = errors.New("remote: unknown command")
	ErrBadRequest     = errors.New("remote: malformed request")
)

// Command handles the frames following the command name and returns the
// reply frames following the status.
type Command func(args [][]byte) ([][]byte, error)

// Server answers requests one at a time.
type Server struct {
	endpoint string
	set      *protocols.Set
	commands map[string]Command

	mu     sync.Mutex
	socket zmq.Socket
}

// New creates a server for endpoint, e.g. "ipc:///tmp/dissect0" or
// "tcp://127.0.0.1:5555".
func New(endpoint string, set *protocols.Set) *Server {
	s := &Server{endpoint: endpoint, set: set}
	s.commands = map[string]Command{
		"ping":      s.ping,
		"version":   s.version,
		"protocols": s.protocols,
		"dissect":   s.dissect,
	}
	return s
}

// Listen binds the endpoint.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.socket != nil {
		return nil
	}
	sock := zmq.NewRep(ctx, zmq.WithDialerRetry(time.Second), zmq.WithAutomaticReconnect(true))
	if err := sock.Listen(s.endpoint); err != nil {
		sock.Close()
		return fmt.Errorf("remote: listen on %s: %w", s.endpoint, err)
	}
	s.socket = sock
	log.GetLogger().WithField("endpoint", s.endpoint).Info("remote endpoint listening")
	return nil
}

// Serve handles requests until ctx is cancelled or the socket fails.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	sock := s.socket
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("remote: receive: %w", err)
		}
		reply := s.handle(msg.Frames)
		if err := sock.Send(zmq.NewMsgFrom(reply...)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("remote: send: %w", err)
		}
	}
}

// Close releases the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.socket == nil {
		return nil
	}
	err := s.socket.Close()
	s.socket = nil
	return err
}

// handle dispatches one request and builds the reply frames.
func (s *Server) handle(frames [][]byte) [][]byte {
	if len(frames) == 0 {
		return failure(ErrBadRequest)
	}
	name := cString(frames[0])
	cmd, ok := s.commands[name]
	if !ok {
		log.GetLogger().WithField("command", name).Warn("unknown remote command")
		metrics.RemoteRequestsTotal.WithLabelValues("unknown", "error").Inc()
		return failure(fmt.Errorf("%w: %q", ErrUnknownCommand, name))
	}

	out, err := cmd(frames[1:])
	if err != nil {
		log.GetLogger().WithField("command", name).WithError(err).Debug("remote command failed")
		metrics.RemoteRequestsTotal.WithLabelValues(name, "error").Inc()
		return failure(err)
	}
	metrics.RemoteRequestsTotal.WithLabelValues(name, "ok").Inc()
	return append([][]byte{{statusSuccess}}, out...)
}

func failure(err error) [][]byte {
	return [][]byte{{statusFailure}, []byte(err.Error())}
}

// cString strips the NUL terminator of a C string frame.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (s *Server) ping([][]byte) ([][]byte, error) { return nil, nil }

func (s *Server) version([][]byte) ([][]byte, error) {
	return [][]byte{{VersionMajor}, {VersionMinor}}, nil
}

func (s *Server) protocols([][]byte) ([][]byte, error) {
	b, err := json.Marshal(s.set.Names())
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// dissect takes [protocol, payload] and an optional output format frame
// (json, text or yaml; json by default) and replies with the rendered tree.
func (s *Server) dissect(args [][]byte) ([][]byte, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: dissect needs a protocol and a payload", ErrBadRequest)
	}
	format := dissect.FormatJSON
	if len(args) > 2 {
		format = cString(args[2])
	}
	res, err := s.set.Decode(cString(args[0]), args[1])
	if err != nil {
		return nil, err
	}
	out, err := dissect.Render(res, format)
	if err != nil {
		return nil, err
	}
	return [][]byte{out}, nil
}
