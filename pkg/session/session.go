// Package session runs one VAD session per client connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/realtime-ai/dualvad/pkg/fusion"
	"github.com/realtime-ai/dualvad/pkg/logger"
	"github.com/realtime-ai/dualvad/pkg/metrics"
	"github.com/realtime-ai/dualvad/pkg/protocol"
	"github.com/realtime-ai/dualvad/pkg/trace"
)

// Session states.
const (
	StateOpen    = "open"
	StateClosing = "closing"
	StateClosed  = "closed"
)

const (
	eventClose  = "close"
	eventFinish = "finish"
)

var (
	errSessionClosed = errors.New("session closed")
	// errClientGone marks a write that failed because the peer went away.
	errClientGone = errors.New("client disconnected")
)

// Conn is the message transport of a session. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options configures a Session. Zero values get defaults.
type Options struct {
	ID         string
	RemoteAddr string
	// StrictFrames enables header validation in the frame codec.
	StrictFrames bool
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics
}

// Session owns the fusion engine of one connection. Messages are handled one
// at a time in arrival order; Close resets the engine exactly once, whichever
// path gets there first.
type Session struct {
	id         string
	remoteAddr string
	conn       Conn
	engine     *fusion.Engine
	strict     bool
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics

	// spanCtx parents every span of the session.
	spanCtx context.Context
	state   *fsm.FSM

	// mu serializes message handling and Close.
	mu            sync.Mutex
	frames        int64
	segmentSpeech bool
	chunks        int64
	closeErr      error
}

// New creates an open session. The session takes ownership of engine and
// conn and releases both on Close.
func New(conn Conn, engine *fusion.Engine, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}

	s := &Session{
		id:         opts.ID,
		remoteAddr: opts.RemoteAddr,
		conn:       conn,
		engine:     engine,
		strict:     opts.StrictFrames,
		log:        opts.Logger.With("session_id", opts.ID),
		metrics:    opts.Metrics,
	}

	s.state = fsm.NewFSM(
		StateOpen,
		fsm.Events{
			{Name: eventClose, Src: []string{StateOpen}, Dst: StateClosing},
			{Name: eventFinish, Src: []string{StateClosing}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_" + StateClosing: s.onClosing,
		},
	)

	ctx, span := trace.InstrumentSessionOpened(context.Background(), s.id, s.remoteAddr)
	span.End()
	s.spanCtx = ctx
	if traceID := trace.TraceID(ctx); traceID != "" {
		s.log = s.log.With("trace_id", traceID)
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Infow("session opened", "remote_addr", s.remoteAddr, "strict_frames", s.strict)
	return s
}

func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() string { return s.state.Current() }

// Frames returns the number of frames answered so far.
func (s *Session) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Run reads and handles messages until the client disconnects, ctx is
// cancelled or a fault occurs. The session is closed when Run returns, also
// after a panic in a detector, which comes back as an error.
// Disconnects and cancellation return nil; model and write faults return the
// error.
func (s *Session) Run(ctx context.Context) (runErr error) {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("session panic: %v", r)
			s.log.Errorw("session fault", "error", runErr, "stack", string(debug.Stack()))
			s.close(runErr)
			return
		}
		s.Close()
	}()

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				s.log.Warnw("connection lost", "error", err)
			} else {
				s.log.Debugw("connection closed", "error", err)
			}
			return nil
		}

		if err := s.handle(ctx, mt, data); err != nil {
			switch {
			case errors.Is(err, errSessionClosed):
				return nil
			case errors.Is(err, errClientGone):
				s.log.Debugw("connection closed during write", "error", err)
				return nil
			}
			s.log.Errorw("session fault", "error", err)
			s.close(err)
			return err
		}
	}
}

func (s *Session) handle(ctx context.Context, mt int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Is(StateOpen) {
		return errSessionClosed
	}

	switch mt {
	case websocket.BinaryMessage:
		return s.handleFrame(ctx, data)
	case websocket.TextMessage:
		s.handleText(data)
	}
	return nil
}

func (s *Session) handleFrame(ctx context.Context, data []byte) error {
	started := time.Now()

	frame, err := protocol.DecodeFrame(data, protocol.DecodeOptions{Strict: s.strict})
	if err != nil {
		s.dropFrame(ctx, err, len(data))
		return nil
	}

	res, err := s.engine.ProcessFrame(s.spanCtx, frame)
	if err != nil {
		return fmt.Errorf("process frame %d: %w", frame.Sequence, err)
	}
	s.frames++
	s.observe(ctx, res)

	msg := toResultMessage(res)
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("encode result %d: %w", frame.Sequence, err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if isDisconnect(err) {
			return fmt.Errorf("%w: write result %d: %w", errClientGone, frame.Sequence, err)
		}
		return fmt.Errorf("write result %d: %w", frame.Sequence, err)
	}

	s.metrics.RecordFrame(ctx, started)
	return nil
}

func (s *Session) dropFrame(ctx context.Context, err error, size int) {
	switch {
	case errors.Is(err, protocol.ErrFrameMismatch):
		s.metrics.RecordDrop(ctx, metrics.DropMismatch)
		s.log.Warnw("dropping frame", "error", err, "bytes", size)
	case errors.Is(err, protocol.ErrBadMagic):
		s.metrics.RecordDrop(ctx, metrics.DropMagic)
		s.log.Debugw("dropping frame", "error", err, "bytes", size)
	default:
		s.metrics.RecordDrop(ctx, metrics.DropShort)
		s.log.Debugw("dropping frame", "error", err, "bytes", size)
	}
}

func (s *Session) handleText(data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedMessage) {
			s.metrics.RecordDrop(s.spanCtx, metrics.DropText)
			s.log.Debugw("ignoring malformed message", "error", err)
			return
		}
		s.metrics.RecordConfig(s.spanCtx, false)
		s.log.Warnw("rejected config", "error", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.ConfigMessage:
		update := fusion.ConfigUpdate{
			Threshold:    m.Threshold,
			MinSilenceMs: m.MinSilenceMs(),
			SpeechPadMs:  m.SpeechPadMs(),
		}
		_, span := trace.InstrumentConfigUpdate(s.spanCtx, s.id, update.Threshold, update.MinSilenceMs, update.SpeechPadMs)
		s.engine.ApplyConfig(update)
		span.End()

		s.metrics.RecordConfig(s.spanCtx, true)
		s.log.Infow("config updated", configFields(update)...)
	default:
		s.log.Debugw("ignoring message", "type", msg.MessageType())
	}
}

// observe records speech transitions and segment model work.
func (s *Session) observe(ctx context.Context, res fusion.Result) {
	if ev := res.Probability.Event; ev != nil {
		s.metrics.RecordSpeechEvent(ctx, fusion.ProbabilityDetector, string(ev.Kind))
		s.log.Debugw("speech "+string(ev.Kind), "detector", fusion.ProbabilityDetector, "seconds", ev.Seconds, "seq", res.Sequence)
	}

	if speech := res.Segment.IsSpeechConfirmed; speech != s.segmentSpeech {
		s.segmentSpeech = speech
		kind := fusion.EventOffset
		if speech {
			kind = fusion.EventOnset
		}
		s.metrics.RecordSpeechEvent(ctx, fusion.SegmentDetector, string(kind))
		s.log.Debugw("speech "+string(kind), "detector", fusion.SegmentDetector, "seq", res.Sequence)
	}

	if chunks := s.engine.SegmentChunks(); chunks > s.chunks {
		s.metrics.SegmentChunks.Add(ctx, chunks-s.chunks)
		s.chunks = chunks
	}
}

// Close resets and releases the engine and closes the connection. Only the
// first call does any work; later calls return the first call's result.
func (s *Session) Close() error {
	return s.close(nil)
}

func (s *Session) close(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cleanup must run even when the caller's context is already done.
	ctx := context.Background()
	if err := s.state.Event(ctx, eventClose, cause); err != nil {
		return s.closeErr
	}
	if err := s.state.Event(ctx, eventFinish); err != nil {
		s.log.Errorw("session did not finish closing", "error", err)
	}
	return s.closeErr
}

// onClosing runs once, on the open -> closing transition.
func (s *Session) onClosing(_ context.Context, e *fsm.Event) {
	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}

	_, span := trace.InstrumentSessionClosed(s.spanCtx, s.id, s.frames, cause)
	defer span.End()

	s.closeErr = errors.Join(s.engine.Reset(), s.engine.Close())
	if s.closeErr != nil {
		trace.RecordError(span, s.closeErr)
		s.log.Warnw("session cleanup failed", "error", s.closeErr)
	}
	s.conn.Close()

	s.metrics.ActiveSessions.Add(s.spanCtx, -1)
	if cause != nil {
		s.metrics.SessionFaults.Add(s.spanCtx, 1)
	}
	s.log.Infow("session closed", "frames", s.frames, "cause", cause)
}

// isDisconnect reports whether err means the peer is gone rather than a
// server-side failure.
func isDisconnect(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func configFields(u fusion.ConfigUpdate) []any {
	var fields []any
	if u.Threshold != nil {
		fields = append(fields, "threshold", *u.Threshold)
	}
	if u.MinSilenceMs != nil {
		fields = append(fields, "min_silence_ms", *u.MinSilenceMs)
	}
	if u.SpeechPadMs != nil {
		fields = append(fields, "speech_pad_ms", *u.SpeechPadMs)
	}
	return fields
}
