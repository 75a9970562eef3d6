package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
)

const (
	asrEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"

	// 16kHz, 16bit, mono, 200ms
	asrPacketSize     = 6400
	asrPacketInterval = 200 * time.Millisecond
)

// ErrNoAudio 音频为空
var ErrNoAudio = errors.New("no audio data to send")

// VolcengineASRClient 火山引擎 ASR WebSocket 客户端
type VolcengineASRClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
	interval time.Duration
}

// NewVolcengineASRClient 创建 ASR 客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig) *VolcengineASRClient {
	handshake := 30 * time.Second
	if config != nil && config.HandshakeTimeout > 0 {
		handshake = config.HandshakeTimeout
	}
	return &VolcengineASRClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshake},
		endpoint: asrEndpoint,
		interval: asrPacketInterval,
	}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

// Transcribe 识别一段完整音频，返回去除首尾空白的文本
func (c *VolcengineASRClient) Transcribe(ctx context.Context, audio []byte, format string) (*speechmodel.Transcript, error) {
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	resourceID := asrResourceDuration
	if c.config.ConcurrentMode {
		resourceID = asrResourceConcurrent
	}
	header, connectID := authHeader(appID, token, resourceID, "")

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[asr] connected with logid: %s", logid)
		}
	}

	payload, err := json.Marshal(c.buildRequest(connectID, format))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	if err := writeFrame(conn, CreateFullClientRequest, payload); err != nil {
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 读写并发进行，服务端提前报错时可以停止发送
	type result struct {
		transcript *speechmodel.Transcript
		err        error
	}
	recvCh := make(chan result, 1)
	go func() {
		transcript, err := c.receive(conn, connectID)
		recvCh <- result{transcript, err}
	}()

	sendCh := make(chan error, 1)
	go func() {
		sendCh <- c.sendAudio(ctx, conn, audio)
	}()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return nil, fmt.Errorf("failed to send audio data: %w", err)
			}
			sendCh = nil
		case res := <-recvCh:
			return res.transcript, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *VolcengineASRClient) buildRequest(uid, format string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "wav"
	}
	req.Audio.Format = format
	req.Audio.Codec = codecFor(format)
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Audio.Language = strings.TrimSpace(c.config.ASRLanguage)
	if req.Audio.Language == "" {
		req.Audio.Language = "en-US"
	}

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// codecFor telegram voice notes arrive as ogg/opus.
func codecFor(format string) string {
	switch format {
	case "ogg", "opus":
		return "opus"
	default:
		return "raw"
	}
}

func (c *VolcengineASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// FullClientRequest 占用序号 1
	sequence := int32(2)

	for start := 0; start < len(audio); start += asrPacketSize {
		end := min(start+asrPacketSize, len(audio))
		last := end == len(audio)

		compressed, err := CompressPayload(audio[start:end], GzipCompression)
		if err != nil {
			return fmt.Errorf("failed to compress audio chunk: %w", err)
		}
		data, err := EncodeMessage(CreateAudioOnlyRequest(compressed, sequence, last, GzipCompression))
		if err != nil {
			return fmt.Errorf("failed to encode audio message: %w", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++

		if last || c.interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval):
		}
	}
	return nil
}

func (c *VolcengineASRClient) receive(conn *websocket.Conn, connectID string) (*speechmodel.Transcript, error) {
	var (
		text     string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read ASR response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode ASR message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("ASR error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(payload))

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress ASR payload: %w", err)
			}

			var serverResp asrServerMessage
			if err := json.Unmarshal(payload, &serverResp); err != nil {
				log.Printf("[asr] failed to unmarshal response: %v", err)
				continue
			}
			if serverResp.Code != 0 && serverResp.Code != 20000000 {
				return nil, fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message)
			}

			if candidate := transcriptText(serverResp); candidate != "" {
				text = candidate
			}
			if serverResp.AudioInfo.Duration > 0 {
				duration = serverResp.AudioInfo.Duration
			}

			if msg.IsLastPacket() || serverResp.Sequence < 0 {
				return &speechmodel.Transcript{
					Text:      strings.TrimSpace(text),
					Duration:  duration,
					RequestID: connectID,
				}, nil
			}
		}
	}
}

func transcriptText(resp asrServerMessage) string {
	if resp.Result.Text != "" {
		return resp.Result.Text
	}
	parts := make([]string, 0, len(resp.Result.Utterances))
	for _, u := range resp.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

type frameBuilder func(payload []byte, compression CompressionMethod) *Message

// writeFrame gzip 压缩后写出一帧
func writeFrame(conn *websocket.Conn, build frameBuilder, payload []byte) error {
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return err
	}
	data, err := EncodeMessage(build(compressed, GzipCompression))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}
