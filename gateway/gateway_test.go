package gateway

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type nilLogger struct{}

func (l nilLogger) Debugf(format string, v ...interface{}) {
}

type staticAttachments map[string][]byte

func (s staticAttachments) Attachment(id string) (filename string, data []byte, err error) {
	data, ok := s[id]
	if !ok {
		return "", nil, errors.New("no such attachment")
	}

	return "file.txt", data, nil
}

func newTestServer(t *testing.T) (s *Server) {
	ready := func(sessionID string) *discordgo.Ready {
		return &discordgo.Ready{
			Version:   9,
			SessionID: sessionID,
			User:      &discordgo.User{ID: "100", Username: "TestBot", Bot: true},
		}
	}

	return New(ready, staticAttachments{"42": []byte("hello")}, nilLogger{})
}

func dial(t *testing.T, s *Server) (conn *websocket.Conn) {
	conn, _, err := websocket.DefaultDialer.Dial(s.URL(), nil)
	require.NoError(t, err)

	return conn
}

func readPayload(t *testing.T, conn *websocket.Conn) (p payload) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &p))

	return p
}

func writePayload(t *testing.T, conn *websocket.Conn, p payload) {
	require.NoError(t, conn.WriteJSON(p))
}

func TestHandshakeDeliversHelloThenReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	conn := dial(t, s)
	defer conn.Close()

	hello := readPayload(t, conn)
	assert.Equal(t, opHello, hello.Op)

	var hd helloData
	require.NoError(t, json.Unmarshal(hello.Data, &hd))
	assert.Equal(t, heartbeatInterval, hd.HeartbeatInterval)

	writePayload(t, conn, payload{Op: opIdentify, Data: json.RawMessage(`{"token":"Bot t"}`)})

	ready := readPayload(t, conn)
	assert.Equal(t, opDispatch, ready.Op)
	assert.Equal(t, "READY", ready.Type)

	var r discordgo.Ready
	require.NoError(t, json.Unmarshal(ready.Data, &r))
	assert.Equal(t, "TestBot", r.User.Username)
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	conn := dial(t, s)
	defer conn.Close()

	readPayload(t, conn)
	writePayload(t, conn, payload{Op: opHeartbeat, Data: json.RawMessage(`1`)})

	ack := readPayload(t, conn)
	assert.Equal(t, opHeartbeatACK, ack.Op)
}

func TestEventsBufferedBeforeIdentifyArriveAfterReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	first := s.Dispatch("MESSAGE_CREATE", map[string]string{"id": "1"})
	second := s.Dispatch("MESSAGE_CREATE", map[string]string{"id": "2"})
	assert.Less(t, first, second)

	conn := dial(t, s)
	defer conn.Close()

	readPayload(t, conn)
	writePayload(t, conn, payload{Op: opIdentify, Data: json.RawMessage(`{}`)})

	ready := readPayload(t, conn)
	require.Equal(t, "READY", ready.Type)

	e1 := readPayload(t, conn)
	assert.Equal(t, first, e1.Seq)
	assert.Equal(t, "MESSAGE_CREATE", e1.Type)

	e2 := readPayload(t, conn)
	assert.Equal(t, second, e2.Seq)
}

func TestResumeSendsResumedDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	conn := dial(t, s)
	defer conn.Close()

	readPayload(t, conn)
	writePayload(t, conn, payload{Op: opResume, Data: json.RawMessage(`{"session_id":"x","seq":3}`)})

	resumed := readPayload(t, conn)
	assert.Equal(t, opDispatch, resumed.Op)
	assert.Equal(t, "RESUMED", resumed.Type)
}

func TestPresenceUpdateIsRecorded(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	conn := dial(t, s)
	defer conn.Close()

	readPayload(t, conn)
	writePayload(t, conn, payload{Op: opIdentify, Data: json.RawMessage(`{}`)})
	readPayload(t, conn)

	// The ping sent by Flush is only answered while a read is in flight, so keep
	// one running until the connection closes
	readerDone := make(chan struct{})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// created_at rides along as the RFC3339 string a discordgo client writes
	writePayload(t, conn, payload{Op: opPresenceUpdate, Data: json.RawMessage(`{"status":"online","afk":false,"activities":[{"name":"pondering","type":0,"state":"deep thought","created_at":"0001-01-01T00:00:00Z"}]}`)})

	require.NoError(t, s.Flush(2*time.Second))

	presence := s.Presence()
	require.NotNil(t, presence)
	assert.Equal(t, "online", presence.Status)
	require.Len(t, presence.Activities, 1)
	assert.Equal(t, "pondering", presence.Activities[0].Name)
	assert.Equal(t, "deep thought", presence.Activities[0].State)

	require.NoError(t, conn.Close())
	<-readerDone
}

func TestAttachmentsServedOverCDN(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()
	defer http.DefaultClient.CloseIdleConnections()

	resp, err := http.Get(s.CDNBase() + "/attachments/42/file.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	missing, err := http.Get(s.CDNBase() + "/attachments/99/file.txt")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestFlushWithoutConnectionIsANoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestServer(t)
	defer s.Close()

	assert.NoError(t, s.Flush(time.Second))
}
