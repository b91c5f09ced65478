package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	maxPayload          = 1 << 20
)

// Server accepts Socket.IO clients over websocket on the root namespace.
type Server struct {
	// OnConnection is called on the socket's read goroutine once the client
	// has joined the namespace, before any of its events are dispatched.
	OnConnection func(s *ServerSocket)

	PingInterval time.Duration
	PingTimeout  time.Duration
	Logger       zerolog.Logger

	upgrader websocket.Upgrader
}

// NewServer creates a server with default keepalive settings.
func NewServer(onConnection func(s *ServerSocket)) *Server {
	return &Server{
		OnConnection: onConnection,
		PingInterval: defaultPingInterval,
		PingTimeout:  defaultPingTimeout,
		Logger:       zerolog.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServerSocket is one connected client.
type ServerSocket struct {
	id      string
	ws      *websocket.Conn
	request *http.Request
	logger  zerolog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	data     map[string]any

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "only the websocket transport is supported", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sock := &ServerSocket{
		id:       uuid.New().String(),
		ws:       ws,
		request:  r,
		logger:   s.Logger,
		handlers: make(map[string][]Handler),
		data:     make(map[string]any),
		done:     make(chan struct{}),
	}

	open, _ := json.Marshal(openPayload{
		SID:          sock.id,
		Upgrades:     []string{},
		PingInterval: int(s.PingInterval / time.Millisecond),
		PingTimeout:  int(s.PingTimeout / time.Millisecond),
		MaxPayload:   maxPayload,
	})
	if err := sock.write(append([]byte{engineOpen}, open...)); err != nil {
		ws.Close()
		return
	}

	go sock.pingPump(s.PingInterval)
	s.readPump(sock)
}

// pingPump sends Engine.IO pings until the socket closes
func (ss *ServerSocket) pingPump(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.done:
			return
		case <-ticker.C:
			if err := ss.write([]byte{enginePing}); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(ss *ServerSocket) {
	reason := "transport close"
	defer func() {
		ss.shutdown(reason)
	}()

	ss.ws.SetReadLimit(maxPayload)
	idle := s.PingInterval + s.PingTimeout
	if idle > 0 {
		ss.ws.SetReadDeadline(time.Now().Add(idle))
	}

	joined := false
	for {
		_, frame, err := ss.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.logger.Debug().Err(err).Str("sid", ss.id).Msg("socket read failed")
			}
			return
		}
		if idle > 0 {
			ss.ws.SetReadDeadline(time.Now().Add(idle))
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := ss.write([]byte{enginePong}); err != nil {
				return
			}
		case engineClose:
			return
		case engineMessage:
			p, err := DecodePacket(frame[1:])
			if err != nil {
				ss.logger.Debug().Err(err).Str("sid", ss.id).Msg("dropping malformed packet")
				continue
			}
			if p.Namespace != "/" {
				continue
			}

			switch p.Type {
			case PacketConnect:
				if joined {
					continue
				}
				ack, _ := json.Marshal(map[string]string{"sid": ss.id})
				frame, _ := EncodePacket(Packet{Type: PacketConnect, Data: ack})
				if err := ss.write(frame); err != nil {
					return
				}
				joined = true
				if s.OnConnection != nil {
					s.OnConnection(ss)
				}
			case PacketEvent:
				if joined {
					ss.dispatch(p.Event, p.Data)
				}
			case PacketDisconnect:
				reason = "client namespace disconnect"
				return
			}
		}
	}
}

// ID returns the Engine.IO session id.
func (ss *ServerSocket) ID() string {
	return ss.id
}

// Request returns the upgrade request.
func (ss *ServerSocket) Request() *http.Request {
	return ss.request
}

// Set stores a value on the socket.
func (ss *ServerSocket) Set(key string, v any) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.data[key] = v
}

// Get returns a value stored with Set.
func (ss *ServerSocket) Get(key string) (any, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	v, ok := ss.data[key]
	return v, ok
}

// On registers a handler for an event from this client. EventDisconnect
// fires once when the socket closes.
func (ss *ServerSocket) On(event string, h Handler) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.handlers[event] = append(ss.handlers[event], h)
}

// Emit sends an event to this client.
func (ss *ServerSocket) Emit(event string, payload any) error {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-ss.done:
		return ErrNotConnected
	default:
	}
	return ss.write(frame)
}

// Disconnect removes the client from the namespace and closes the socket.
func (ss *ServerSocket) Disconnect() error {
	frame, _ := EncodePacket(Packet{Type: PacketDisconnect})
	err := ss.write(frame)
	ss.shutdown("server namespace disconnect")
	return err
}

// Done is closed when the socket is gone.
func (ss *ServerSocket) Done() <-chan struct{} {
	return ss.done
}

func (ss *ServerSocket) write(frame []byte) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()

	ss.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ss.ws.WriteMessage(websocket.TextMessage, frame)
}

func (ss *ServerSocket) dispatch(event string, data json.RawMessage) {
	ss.mu.Lock()
	handlers := append([]Handler(nil), ss.handlers[event]...)
	ss.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (ss *ServerSocket) shutdown(reason string) {
	ss.once.Do(func() {
		close(ss.done)
		ss.ws.Close()
		payload, _ := json.Marshal(reason)
		ss.dispatch(EventDisconnect, payload)
	})
}
