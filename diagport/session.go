package diagport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/ultraprof/ultra/internal/uerrors"
)

// State is one of the Session lifecycle states (spec §4.D).
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateStreaming
	StateStopping
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateStreaming:
		return "Streaming"
	case StateStopping:
		return "Stopping"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// endpoint abstracts the diagnostic-port IPC connection so Session's
// state machine and compensation logic can be exercised without a
// real victim process and socket.
type endpoint interface {
	// BeginEventPipeSession asks the endpoint to start streaming and
	// returns a reader of the raw event-pipe byte stream.
	BeginEventPipeSession(cfg ProviderConfig) (io.ReadCloser, error)
	// StopSession tells the endpoint the consumer is done.
	StopSession() error
	Close() error
}

// dialedEndpoint is the real implementation, a Unix domain socket
// connection to the victim's diagnostic-port listener.
type dialedEndpoint struct {
	conn net.Conn
}

func dialEndpoint(ctx context.Context, socketPath string) (*dialedEndpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, uerrors.New(uerrors.KindConnect, "dialEndpoint", err)
	}
	return &dialedEndpoint{conn: conn}, nil
}

// BeginEventPipeSession writes a minimal collect-tracing command
// naming the provider and keywords, then returns the connection
// itself as the stream reader: the diagnostic-port protocol multiplexes
// command responses and the subsequent event-pipe stream over the
// same socket.
func (e *dialedEndpoint) BeginEventPipeSession(cfg ProviderConfig) (io.ReadCloser, error) {
	cmd := fmt.Sprintf("COLLECT %s %d %d\n", cfg.GUID, cfg.VerboseLevel, cfg.BufferMB)
	if _, err := io.WriteString(e.conn, cmd); err != nil {
		return nil, uerrors.New(uerrors.KindConnect, "BeginEventPipeSession", err)
	}
	return e.conn, nil
}

func (e *dialedEndpoint) StopSession() error {
	_, err := io.WriteString(e.conn, "STOP\n")
	return err
}

func (e *dialedEndpoint) Close() error { return e.conn.Close() }

// Session represents one live event stream from the victim, copied to
// one on-disk intermediate file (spec §4.D).
type Session struct {
	log     zerolog.Logger
	channel Channel
	path    string

	sem *semaphore.Weighted // single-slot: serializes Start vs StopAndDispose

	mu       sync.Mutex
	state    State
	endpoint endpoint
	file     *os.File
	copyDone chan error
	cancel   context.CancelFunc
}

// NewSession constructs a Session for one channel, writing its
// intermediate file to path.
func NewSession(log zerolog.Logger, channel Channel, path string) *Session {
	return &Session{
		log:     log.With().Str("channel", fmt.Sprint(channel)).Logger(),
		channel: channel,
		path:    path,
		sem:     semaphore.NewWeighted(1),
		state:   StateConnecting,
	}
}

// Start discovers the victim's endpoint, connects, opens the
// intermediate file, and launches the background copy task (spec
// §4.D Start). It blocks until the session reaches Streaming or fails.
func (s *Session) Start(ctx context.Context, tmpDir string, pid int, cfg ProviderConfig, timeout time.Duration) error {
	if !s.sem.TryAcquire(1) {
		return uerrors.New(uerrors.KindConnect, "Session.Start", fmt.Errorf("a Start or StopAndDispose is already in flight"))
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithCancel(ctx)

	socketPath, err := discoverSocket(ctx, tmpDir, pid, s.channel, timeout)
	if err != nil {
		cancel()
		if s.channel == ChannelSampler {
			s.log.Warn().Err(err).Msg("sampler channel not present, proceeding without native sampling")
			return nil
		}
		return err
	}

	ep, err := dialEndpoint(ctx, socketPath)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	stream, err := ep.BeginEventPipeSession(cfg)
	if err != nil {
		ep.Close()
		cancel()
		return err
	}

	f, err := os.Create(s.path)
	if err != nil {
		ep.Close()
		cancel()
		return uerrors.New(uerrors.KindIO, "Session.Start", err)
	}

	s.mu.Lock()
	s.endpoint = ep
	s.file = f
	s.cancel = cancel
	s.state = StateStreaming
	s.copyDone = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		_, copyErr := io.Copy(f, stream)
		s.copyDone <- copyErr
	}()
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	return nil
}

// StopAndDispose cancels the copy task, awaits it, closes the file,
// and asks the endpoint to stop — each step's error is captured and
// suppressed so the other two still run (spec §4.D Stop,
// compensation-style cleanup). Only after all three complete is the
// session marked Disposed.
func (s *Session) StopAndDispose(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return uerrors.New(uerrors.KindConnect, "Session.StopAndDispose", err)
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancel
	copyDone := s.copyDone
	file := s.file
	ep := s.endpoint
	s.mu.Unlock()

	var firstErr error
	capture := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if cancel != nil {
		cancel()
	}
	if copyDone != nil {
		select {
		case err := <-copyDone:
			if err != nil && err != io.EOF {
				capture(err)
			}
		case <-ctx.Done():
			capture(ctx.Err())
		}
	}
	if file != nil {
		capture(file.Close())
	}
	if ep != nil {
		capture(ep.StopSession())
		capture(ep.Close())
	}

	s.mu.Lock()
	s.state = StateDisposed
	s.mu.Unlock()

	if firstErr != nil {
		s.log.Warn().Err(firstErr).Msg("StopAndDispose completed with a suppressed error")
	}
	return nil
}

// CurrentState returns the session's lifecycle state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
