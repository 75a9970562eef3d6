package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chat-relay/internal/service/relay"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// 入站消息缓冲，读协程在对话进行时继续处理 pong
	inboundBacklog = 16
)

// WebSocketHandler 在一条长连接上连续进行多轮对话
type WebSocketHandler struct {
	relay    *relay.Orchestrator
	upgrader websocket.Upgrader

	pongWait      time.Duration
	pingPeriod    time.Duration
	maxAudioBytes int
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(orchestrator *relay.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		relay: orchestrator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait:      pongWait,
		pingPeriod:    pingPeriod,
		maxAudioBytes: maxVoiceBytes,
	}
}

// readLimit bounds one frame: base64 audio plus the JSON envelope.
func (h *WebSocketHandler) readLimit() int64 {
	return int64(h.maxAudioBytes)*4/3 + 4096
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/users/{userID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage 音频分片，IsFinal 时整段送去识别
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"userId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectionState struct {
	userID      string
	audioFormat string
	buffer      bytes.Buffer
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for user: %s", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(h.readLimit())
	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	go pingLoop(ctx, conn, h.pingPeriod)

	state := &connectionState{userID: userID}
	h.send(conn, state, "connected", map[string]any{
		"greeting":    h.relay.Greeting(),
		"speechInput": h.relay.SpeechInput(),
	})

	inbound := make(chan inboundMessage, inboundBacklog)
	go func() {
		// 客户端断开时同时取消进行中的对话
		defer cancel()
		h.readLoop(ctx, conn, inbound)
	}()

	for msg := range inbound {
		h.handleMessage(ctx, conn, state, &msg)
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

// readLoop 独立读取消息，长时间的对话期间 pong 依然会被处理
func (h *WebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, inbound chan<- inboundMessage) {
	defer close(inbound)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.pongWait))

		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(conn, state, "invalid text payload")
			return
		}
		h.exchange(ctx, conn, state, relay.TextInput(text.Text))

	case "audio":
		var audio AudioMessage
		if err := json.Unmarshal(msg.Data, &audio); err != nil {
			h.sendError(conn, state, "invalid audio payload")
			return
		}
		if state.buffer.Len()+len(audio.AudioData) > h.maxAudioBytes {
			state.buffer.Reset()
			h.sendError(conn, state, "audio exceeds the upload limit")
			return
		}
		state.buffer.Write(audio.AudioData)
		if audio.Format != "" {
			state.audioFormat = audio.Format
		}
		if !audio.IsFinal {
			return
		}

		data := bytes.Clone(state.buffer.Bytes())
		state.buffer.Reset()
		format := state.audioFormat
		if format == "" {
			format = "ogg"
		}
		h.exchange(ctx, conn, state, relay.AudioInput(data, format))

	case "reset":
		h.send(conn, state, "message", h.relay.Reset(state.userID))
		h.send(conn, state, "end", nil)

	default:
		h.sendError(conn, state, "unsupported message type: "+msg.Type)
	}
}

// exchange 每条回复一到就推送，最后以 end 结束
func (h *WebSocketHandler) exchange(ctx context.Context, conn *websocket.Conn, state *connectionState, in relay.Input) {
	err := h.relay.HandleStream(ctx, state.userID, in, func(out relay.Outbound) error {
		return h.write(conn, state, "message", out)
	})
	if err != nil {
		log.Printf("[websocket] exchange for user=%s ended with: %v", state.userID, err)
	}
	h.send(conn, state, "end", nil)
}

func (h *WebSocketHandler) write(conn *websocket.Conn, state *connectionState, kind string, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(outgoingMessage{
		Type:      kind,
		UserID:    state.userID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (h *WebSocketHandler) send(conn *websocket.Conn, state *connectionState, kind string, data any) {
	if err := h.write(conn, state, kind, data); err != nil {
		log.Printf("[websocket] write %s failed: %v", kind, err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, state *connectionState, message string) {
	h.send(conn, state, "error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息；WriteControl 可与 WriteJSON 并发调用
func pingLoop(ctx context.Context, conn *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
