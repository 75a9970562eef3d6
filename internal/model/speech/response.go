package speech

import "time"

// SampleRate is the fixed output rate of synthesized speech.
const SampleRate = 24000

// Audio 合成得到的音频
type Audio struct {
	Data       []byte    `json:"data,omitempty"` // base64 in JSON
	Format     string    `json:"format"`
	SampleRate int       `json:"sampleRate"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Empty reports whether the audio carries no samples.
func (a *Audio) Empty() bool {
	return a == nil || len(a.Data) == 0
}

// Transcript 语音识别结果
type Transcript struct {
	Text      string `json:"text"`
	Duration  int64  `json:"duration"` // milliseconds
	RequestID string `json:"requestId,omitempty"`
}
