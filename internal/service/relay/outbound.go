package relay

import speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"

// Kind distinguishes outbound message payloads.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// ParseMode tells the transport how to render Outbound.Text.
type ParseMode string

const (
	ParseModePlain ParseMode = ""
	ParseModeHTML  ParseMode = "HTML"
)

// Outbound is one message delivered back to the user.
type Outbound struct {
	Kind      Kind               `json:"kind"`
	Text      string             `json:"text,omitempty"`
	ParseMode ParseMode          `json:"parseMode,omitempty"`
	Audio     *speechmodel.Audio `json:"audio,omitempty"`
}

// Sink receives outbound messages in delivery order. A non-nil error stops the
// exchange from emitting anything further.
type Sink func(Outbound) error

// Input is either typed text or a recorded voice note.
type Input struct {
	Text   string
	Audio  []byte
	Format string
}

// TextInput wraps typed text.
func TextInput(text string) Input {
	return Input{Text: text}
}

// AudioInput wraps a voice recording in the given container format (ogg, wav, pcm).
func AudioInput(data []byte, format string) Input {
	return Input{Audio: data, Format: format}
}

// IsAudio reports whether the input must be transcribed first.
func (in Input) IsAudio() bool {
	return in.Audio != nil
}

// Result is the collected outcome of one exchange.
type Result struct {
	Messages []Outbound
	// Err is an *InputError or *InferenceError when the exchange failed.
	// The user-facing explanation is already part of Messages.
	Err error
}

func textMessage(text string, mode ParseMode) Outbound {
	return Outbound{Kind: KindText, Text: text, ParseMode: mode}
}
