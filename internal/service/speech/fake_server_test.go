package speech

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeVolcengine 模拟火山引擎 WebSocket 端点，handle 负责单个连接的收发
type fakeVolcengine struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
}

func newFakeVolcengine(t *testing.T, handle func(r *http.Request, conn *websocket.Conn)) *fakeVolcengine {
	t.Helper()

	fake := &fakeVolcengine{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fake.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(r, conn)
	}))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeVolcengine) URL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) *Message {
	t.Helper()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("server read failed: %v", err)
		return nil
	}
	msg, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		t.Errorf("server decode failed: %v", err)
		return nil
	}
	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		t.Errorf("server decompress failed: %v", err)
		return nil
	}
	msg.Payload = payload
	return msg
}

func writeServerFrame(t *testing.T, conn *websocket.Conn, msg *Message) {
	t.Helper()

	msg.PayloadSize = uint32(len(msg.Payload))
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Errorf("server encode failed: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Errorf("server write failed: %v", err)
	}
}
