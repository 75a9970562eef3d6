package persona

// Persona describes the system preamble the relay speaks with.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Preamble    string `json:"preamble,omitempty"`
	OpeningLine string `json:"openingLine"`
	VoiceID     string `json:"voiceId,omitempty"`
}

// DefaultID is the persona used when none is configured.
const DefaultID = "assistant"

// Seed provides the built-in personas.
func Seed() []Persona {
	return []Persona{
		{
			// No preamble: the model sees the bare conversation.
			ID:          DefaultID,
			Name:        "Assistant",
			OpeningLine: "Hi! I'm a bot running on a local language model.\nJust send me a message or a voice note!",
		},
		{
			ID:          "concise",
			Name:        "Concise assistant",
			Preamble:    "You are a helpful assistant. Answer briefly and to the point. Use **bold** for key terms and \"* \" bullets for lists.",
			OpeningLine: "Hello. Ask me anything and I'll keep it short.",
			VoiceID:     "en_default",
		},
		{
			ID:          "tutor",
			Name:        "Patient tutor",
			Preamble:    "You are a patient tutor. Explain ideas step by step, check understanding with a short question at the end, and never invent facts.",
			OpeningLine: "Hi! What would you like to learn today?",
			VoiceID:     "tavern-guide",
		},
	}
}
