// Package gateway provides an in-process fake of the discord gateway. It accepts a
// real discordgo session connection, answers the handshake (hello, identify or resume,
// heartbeats) and delivers dispatch events fed to it by the backend, so that handlers
// registered on the session fire through discordgo's own event dispatching
package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Gateway opcodes, as defined by the discord gateway protocol
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opResume         = 6
	opHeartbeatACK   = 11
	opHello          = 10
)

// heartbeatInterval is deliberately long so that heartbeat traffic doesn't interleave
// with short-lived tests
const heartbeatInterval = 41250

// ErrFlushTimeout is returned when the connected client doesn't answer a ping in time
var ErrFlushTimeout = errors.New("timed out waiting for the client to drain the gateway connection")

// Logger is the minimal logging interface the server needs
type Logger interface {
	Debugf(format string, v ...interface{})
}

// AttachmentSource is implemented by any value that can return attachment content to
// serve over the fake CDN
type AttachmentSource interface {
	Attachment(attachmentID string) (filename string, data []byte, err error)
}

type payload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// wsSession holds the state of one accepted gateway connection
type wsSession struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server is the fake gateway server. It also serves attachment content over plain
// HTTP so that message attachments created during tests have working URLs
type Server struct {
	httpSrv     *httptest.Server
	upgrader    websocket.Upgrader
	log         Logger
	ready       func(sessionID string) *discordgo.Ready
	attachments AttachmentSource

	seq       int64
	pingNonce int64

	mu         sync.Mutex
	session    *wsSession
	identified bool
	pending    [][]byte
	presence   *discordgo.UpdateStatusData
	pongs      map[string]chan struct{}
	closed     bool
}

// New creates and starts a gateway server. The ready function is invoked when the
// client identifies to produce the READY payload
func New(ready func(sessionID string) *discordgo.Ready, attachments AttachmentSource, log Logger) (s *Server) {
	s = &Server{
		log:         log,
		ready:       ready,
		attachments: attachments,
		pongs:       make(map[string]chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/attachments/", s.serveAttachment)
	mux.HandleFunc("/", s.serveWS)

	s.httpSrv = httptest.NewServer(mux)

	return s
}

// URL returns the websocket URL clients should be pointed at via the gateway endpoint
func (s *Server) URL() (wsURL string) {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http")
}

// CDNBase returns the base URL under which attachment content is served
func (s *Server) CDNBase() (baseURL string) {
	return s.httpSrv.URL
}

// Dispatch delivers an op 0 event to the connected client and returns the sequence
// number assigned to it. Events dispatched before the client has identified are
// buffered and flushed right after READY, preserving order
func (s *Server) Dispatch(eventType string, data interface{}) (seq int64) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Debugf("gateway: dropping [%s] event that failed to marshal: %v", eventType, err)
		return 0
	}

	seq = atomic.AddInt64(&s.seq, 1)
	frame, _ := json.Marshal(payload{Op: opDispatch, Seq: seq, Type: eventType, Data: raw})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || !s.identified {
		s.pending = append(s.pending, frame)
		return seq
	}

	s.session.send <- frame

	return seq
}

// Presence returns the last presence update received from the client, or nil if the
// client never sent one (or explicitly cleared it)
func (s *Server) Presence() (presence *discordgo.UpdateStatusData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.presence
}

// Flush waits until the client has read everything it wrote before the call. It works
// by sending a websocket ping and waiting for the matching pong: the pong is queued by
// the client behind any data frame it sent earlier, so once it arrives all prior
// client-to-server traffic has been processed
func (s *Server) Flush(timeout time.Duration) (err error) {
	s.mu.Lock()
	session := s.session
	if session == nil {
		s.mu.Unlock()
		return nil
	}

	nonce := strconv.FormatInt(atomic.AddInt64(&s.pingNonce, 1), 10)
	pong := make(chan struct{})
	s.pongs[nonce] = pong
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pongs, nonce)
		s.mu.Unlock()
	}()

	err = session.conn.WriteControl(websocket.PingMessage, []byte(nonce), time.Now().Add(timeout))
	if err != nil {
		return errors.Wrap(err, "failed to ping the gateway client")
	}

	select {
	case <-pong:
		return nil
	case <-session.done:
		return nil
	case <-time.After(timeout):
		return ErrFlushTimeout
	}
}

// Close shuts the gateway down, disconnecting any connected client
func (s *Server) Close() (err error) {
	s.mu.Lock()
	s.closed = true
	session := s.session
	s.mu.Unlock()

	if session != nil {
		session.conn.Close()
		<-session.done
	}

	s.httpSrv.Close()

	return nil
}

func (s *Server) serveAttachment(w http.ResponseWriter, r *http.Request) {
	// path form: /attachments/{id}/{filename}
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/attachments/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	_, data, err := s.attachments.Attachment(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("gateway: upgrade failed: %v", err)
		return
	}

	session := &wsSession{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		close(session.done)
		return
	}
	s.session = session
	s.identified = false
	s.mu.Unlock()

	conn.SetPongHandler(func(appData string) error {
		s.mu.Lock()
		pong, ok := s.pongs[appData]
		if ok {
			delete(s.pongs, appData)
		}
		s.mu.Unlock()

		if ok {
			close(pong)
		}
		return nil
	})

	hello, _ := json.Marshal(helloData{HeartbeatInterval: heartbeatInterval})
	s.enqueue(session, payload{Op: opHello, Data: hello})

	var g errgroup.Group
	g.Go(func() error {
		// Unregister before closing the send channel so Dispatch can't race a send
		// on a closed channel
		defer func() {
			s.mu.Lock()
			if s.session == session {
				s.session = nil
				s.identified = false
			}
			s.mu.Unlock()
			close(session.send)
		}()
		return s.readLoop(session)
	})
	g.Go(func() error {
		return s.writeLoop(session)
	})

	if err := g.Wait(); err != nil {
		s.log.Debugf("gateway: connection ended: %v", err)
	}

	conn.Close()
	close(session.done)
}

func (s *Server) enqueue(session *wsSession, p payload) {
	frame, _ := json.Marshal(p)
	session.send <- frame
}

func (s *Server) writeLoop(session *wsSession) (err error) {
	for frame := range session.send {
		if err = session.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			// Drain remaining frames so enqueuers don't block on a dead connection
			for range session.send {
			}
			return errors.Wrap(err, "gateway write failed")
		}
	}

	return nil
}

func (s *Server) readLoop(session *wsSession) (err error) {
	for {
		_, raw, err := session.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("gateway: read ended: %v", err)
			}
			return nil
		}

		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.log.Debugf("gateway: ignoring unparseable frame: %v", err)
			continue
		}

		switch p.Op {
		case opHeartbeat:
			s.enqueue(session, payload{Op: opHeartbeatACK})

		case opIdentify:
			s.handleIdentify(session)

		case opResume:
			seq := atomic.AddInt64(&s.seq, 1)
			s.enqueue(session, payload{Op: opDispatch, Seq: seq, Type: "RESUMED", Data: json.RawMessage(`{}`)})
			s.markIdentified(session)

		case opPresenceUpdate:
			s.handlePresence(p.Data)

		default:
			s.log.Debugf("gateway: ignoring op %d", p.Op)
		}
	}
}

func (s *Server) handleIdentify(session *wsSession) {
	sessionID := "testcord-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ready := s.ready(sessionID)

	raw, err := json.Marshal(ready)
	if err != nil {
		s.log.Debugf("gateway: failed to marshal READY: %v", err)
		return
	}

	seq := atomic.AddInt64(&s.seq, 1)
	s.enqueue(session, payload{Op: opDispatch, Seq: seq, Type: "READY", Data: raw})
	s.markIdentified(session)
}

// markIdentified flushes events buffered before the client connected, in order,
// right behind the READY/RESUMED dispatch
func (s *Server) markIdentified(session *wsSession) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.identified = true
	s.mu.Unlock()

	for _, frame := range pending {
		session.send <- frame
	}
}

// presenceFrame mirrors the op 3 payload shape a client sends. It can't be decoded
// into discordgo.UpdateStatusData because Activity's custom unmarshaler expects
// created_at as millis while the client marshals it as an RFC3339 string
type presenceFrame struct {
	Status     string `json:"status"`
	AFK        bool   `json:"afk"`
	Activities []struct {
		Name  string                 `json:"name"`
		Type  discordgo.ActivityType `json:"type"`
		URL   string                 `json:"url"`
		State string                 `json:"state"`
	} `json:"activities"`
}

func (s *Server) handlePresence(data json.RawMessage) {
	var frame presenceFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.log.Debugf("gateway: ignoring unparseable presence update: %v", err)
		return
	}

	update := discordgo.UpdateStatusData{Status: frame.Status, AFK: frame.AFK}
	for _, a := range frame.Activities {
		update.Activities = append(update.Activities, &discordgo.Activity{
			Name:  a.Name,
			Type:  a.Type,
			URL:   a.URL,
			State: a.State,
		})
	}

	s.mu.Lock()
	s.presence = &update
	s.mu.Unlock()
}
