package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
)

const (
	ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	ttsEncoding = "mp3"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"
)

var (
	// ErrEmptyText 合成文本为空
	ErrEmptyText = errors.New("TTS text is empty")
	// ErrEmptyAudio 服务端未返回音频
	ErrEmptyAudio = errors.New("TTS audio is empty")
)

// voiceAliases 人设里使用的别名到火山音色 ID
var voiceAliases = map[string]string{
	"en_default":                            "en_female_amy_jupiter_bigtts",
	"en_male":                               "en_male_glen_emo_v2_mars_bigtts",
	"tavern-guide":                          "zh_female_vv_venus_bigtts",
	"zh_male_m392_conversation":             "zh_male_M392_conversation_wvae_bigtts",
	"zh_male_m392_conversation_wvae_bigtts": "zh_male_M392_conversation_wvae_bigtts",
}

var seedVoiceHints = []string{
	"bigtts", "seed", "megatts", "uranus", "venus", "jupiter",
	"saturn", "neptune", "mercury", "pluto", "mars",
}

// VolcengineTTSClient 火山引擎 TTS WebSocket 客户端
type VolcengineTTSClient struct {
	config   *speechmodel.SpeechConfig
	dialer   *websocket.Dialer
	endpoint string
}

// NewVolcengineTTSClient 创建 TTS 客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig) *VolcengineTTSClient {
	handshake := 30 * time.Second
	if config != nil && config.HandshakeTimeout > 0 {
		handshake = config.HandshakeTimeout
	}
	return &VolcengineTTSClient{
		config:   config,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshake},
		endpoint: ttsEndpoint,
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// Synthesize 合成整段文本。音色按 voice、配置默认音色的顺序尝试，
// 每个音色再依次尝试兼容的资源 ID，只有资源不匹配的错误会触发下一次尝试。
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, text, voice string) (*speechmodel.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speakers := speakerCandidates(voice, c.config.TTSVoice)
	if len(speakers) == 0 {
		return nil, fmt.Errorf("TTS synthesis failed: no voice configured")
	}

	var lastMismatch error
	for _, speaker := range speakers {
		for idx, resourceID := range resourceCandidates(speaker) {
			audio, err := c.synthesizeWith(ctx, appID, token, resourceID, speaker, text)
			if err == nil {
				if idx > 0 {
					log.Printf("[tts] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return audio, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			log.Printf("[tts] voice %s resource %s mismatch: %v", speaker, resourceID, err)
			lastMismatch = err
		}
	}
	return nil, lastMismatch
}

func (c *VolcengineTTSClient) synthesizeWith(ctx context.Context, appID, token, resourceID, speaker, text string) (*speechmodel.Audio, error) {
	header, connectID := authHeader(appID, token, resourceID, "")

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected with logid: %s", logid)
		}
	}

	// ReadMessage 不感知 context，取消时关闭连接使其返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildRequest(connectID, speaker, text))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	data, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		buf      bytes.Buffer
		reqID    = connectID
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("TTS error message decode failed: %w", err)
			}
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(payload))

		case AudioOnlyServerResponse:
			chunk, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress audio chunk: %w", err)
			}
			buf.Write(chunk)
			if !msg.IsLastPacket() {
				continue
			}

		case FullServerResponse:
			payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
			}

			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[tts] failed to unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.ReqID != "" {
						reqID = serverResp.ReqID
					}
					if ms, err := strconv.ParseInt(serverResp.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						buf.Write(chunk)
					}
				}
			}

			finished := msg.hasEvent() && msg.EventType == EventTypeSessionFinished
			if !finished && !msg.IsLastPacket() && serverResp.Sequence >= 0 {
				continue
			}

		default:
			log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
			continue
		}

		if buf.Len() == 0 {
			return nil, ErrEmptyAudio
		}
		return &speechmodel.Audio{
			Data:       buf.Bytes(),
			Format:     ttsEncoding,
			SampleRate: speechmodel.SampleRate,
			Duration:   duration,
			RequestID:  reqID,
			CreatedAt:  time.Now(),
		}, nil
	}
}

func (c *VolcengineTTSClient) buildRequest(uid, speaker, text string) *ttsRequest {
	req := &ttsRequest{}
	req.User.UID = uid
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = ttsEncoding
	req.ReqParams.AudioParams.SampleRate = speechmodel.SampleRate

	if speed := c.config.TTSSpeed; speed > 0 && speed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = speed
	}
	if volume := c.config.TTSVolume; volume > 0 && volume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = volume
	}
	req.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	return req
}

// speakerCandidates 解析别名并去重，保持 requested 在前
func speakerCandidates(requested, fallback string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "default") {
			return
		}
		if mapped, ok := voiceAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}

	add(requested)
	add(fallback)
	return out
}

// resourceCandidates 克隆音色(S_ 前缀)只能走 megatts；大模型音色优先 seed 资源
func resourceCandidates(speaker string) []string {
	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{ttsResourceMega}
	}

	normalized := strings.ToLower(speaker)
	for _, hint := range seedVoiceHints {
		if strings.Contains(normalized, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
