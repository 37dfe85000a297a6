// Package gateway exposes the engine to a browser client over a
// websocket: the client streams microphone chunks in and receives
// synthesized speech, transcript updates and engine events back.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cofyye/ai-garaza/internal/bus"
	"github.com/cofyye/ai-garaza/internal/engine"
	"github.com/cofyye/ai-garaza/internal/logging"
	"github.com/cofyye/ai-garaza/internal/session"
)

// Frame types on the websocket, both directions.
const (
	frameTypeAudio      = "audio"
	frameTypeControl    = "control"
	frameTypeText       = "text"
	frameTypeEdit       = "edit"
	frameTypeIdle       = "idle"
	frameTypePlayed     = "played"
	frameTypePlay       = "play"
	frameTypePlayCancel = "play_cancel"
	frameTypeEvent      = "event"
	frameTypeState      = "state"
	frameTypeError      = "error"
)

// Control actions accepted from the client.
const (
	actionStart  = "start"
	actionResume = "resume"
	actionListen = "listen"
	actionStop   = "stop"
	actionMute   = "mute"
	actionUnmute = "unmute"
	actionState  = "state"
)

// frame is the wire shape for both inbound and outbound messages; unused
// fields are omitted per frame type.
type frame struct {
	Type        string            `json:"type"`
	Action      string            `json:"action,omitempty"`
	Data        string            `json:"data,omitempty"`
	Text        string            `json:"text,omitempty"`
	Code        string            `json:"code,omitempty"`
	Language    string            `json:"language,omitempty"`
	SecondsIdle int               `json:"seconds_idle,omitempty"`
	AudioBase64 string            `json:"audio_base64,omitempty"`
	Mime        string            `json:"mime,omitempty"`
	Event       string            `json:"event,omitempty"`
	EventData   map[string]any    `json:"event_data,omitempty"`
	State       *session.Snapshot `json:"state,omitempty"`
	Messages    []session.Message `json:"messages,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Config tunes the gateway server.
type Config struct {
	ListenAddr    string
	PlayedTimeout time.Duration
}

// Server is the websocket gateway. One client drives one engine; a new
// connection replaces the previous one.
type Server struct {
	config   Config
	logger   zerolog.Logger
	logStore *logging.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	capture *Capture
	output  *Output

	mu     sync.Mutex
	conn   *websocket.Conn
	eng    *engine.Engine
	closed bool

	writeMu sync.Mutex
}

// New creates a Server. Attach must be called before Run.
func New(cfg Config, logStore *logging.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}

	s := &Server{
		config:   cfg,
		logger:   logStore.Component("gateway"),
		logStore: logStore,
		capture:  NewCapture(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			// The gateway serves a local companion page.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.output = NewOutput(s.sendFrame, cfg.PlayedTimeout)
	return s
}

// Capture returns the device fed by the connected client's microphone.
func (s *Server) Capture() *Capture { return s.capture }

// Output returns the playback sink backed by the connected client.
func (s *Server) Output() *Output { return s.output }

// Attach binds the engine and forwards its bus events to the client.
func (s *Server) Attach(eng *engine.Engine, b *bus.EventBus) {
	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()

	b.SubscribeAll(func(event bus.Event) {
		_ = s.sendFrame(frame{
			Type:      frameTypeEvent,
			Event:     string(event.Type),
			EventData: event.Data,
		})
	})
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpSrv = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Gateway listening")

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.logger.Info().Msg("Gateway stopped")
}

// handleLogs returns recent log entries for the companion page.
func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.logStore.History(200))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	old := s.conn
	s.conn = conn
	eng := s.eng
	s.mu.Unlock()

	if old != nil {
		s.logger.Info().Msg("Replacing existing client connection")
		_ = old.Close()
	}
	s.capture.setConnected(true)

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")
	s.sendState(eng)

	go s.readLoop(conn, eng)
}

func (s *Server) readLoop(conn *websocket.Conn, eng *engine.Engine) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.capture.setConnected(false)
		}
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info().Msg("Client disconnected")
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}
		s.dispatch(eng, f)
	}
}

// dispatch routes one inbound frame. Audio chunks are on the hot path and
// handled inline; engine calls that hit the network run in goroutines so
// the read loop keeps draining.
func (s *Server) dispatch(eng *engine.Engine, f frame) {
	switch f.Type {
	case frameTypeAudio:
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed audio chunk")
			return
		}
		s.capture.Push(data)

	case frameTypePlayed:
		s.output.Played()

	case frameTypeText:
		go func() {
			if err := eng.SubmitText(context.Background(), f.Text); err != nil {
				s.sendError(err)
			}
		}()

	case frameTypeEdit:
		if err := eng.EditCode(f.Code, f.Language); err != nil {
			s.sendError(err)
		}

	case frameTypeIdle:
		go func() {
			if err := eng.ReportIdle(context.Background(), f.SecondsIdle); err != nil {
				s.sendError(err)
			}
		}()

	case frameTypeControl:
		s.dispatchControl(eng, f.Action)

	default:
		s.logger.Debug().Str("type", f.Type).Msg("Ignoring unknown frame type")
	}
}

func (s *Server) dispatchControl(eng *engine.Engine, action string) {
	switch action {
	case actionStart:
		go func() {
			if err := eng.Start(context.Background()); err != nil {
				s.sendError(err)
			}
		}()
	case actionResume:
		go func() {
			if err := eng.Resume(context.Background()); err != nil {
				s.sendError(err)
			}
			s.sendState(eng)
		}()
	case actionListen:
		if err := eng.BeginRecording(context.Background()); err != nil {
			s.sendError(err)
		}
	case actionStop:
		eng.StopRecording()
	case actionMute:
		eng.Mute()
	case actionUnmute:
		eng.Unmute()
	case actionState:
		s.sendState(eng)
	default:
		s.logger.Debug().Str("action", action).Msg("Ignoring unknown control action")
	}
}

func (s *Server) sendState(eng *engine.Engine) {
	if eng == nil {
		return
	}
	snap := eng.Snapshot()
	_ = s.sendFrame(frame{
		Type:     frameTypeState,
		State:    &snap,
		Messages: eng.Messages(50),
	})
}

func (s *Server) sendError(err error) {
	s.logger.Warn().Err(err).Msg("Client operation failed")
	_ = s.sendFrame(frame{Type: frameTypeError, Error: err.Error()})
}

// sendFrame writes one frame to the connected client. Writes are
// serialized; gorilla allows only one concurrent writer.
func (s *Server) sendFrame(f frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("no client connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}
