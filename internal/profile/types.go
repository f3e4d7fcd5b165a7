package profile

// Preferences is the user's standing instructions to the assistant: how to
// address them and how replies should sound.
type Preferences struct {
	Name      string   `json:"name,omitempty"`
	Locale    string   `json:"locale,omitempty"`
	Units     string   `json:"units,omitempty"`     // "metric" or "imperial"
	Tone      string   `json:"tone,omitempty"`      // e.g. "warm", "direct"
	Verbosity string   `json:"verbosity,omitempty"` // e.g. "brief"
	Interests []string `json:"interests,omitempty"`
}

// Keys accepted by Manager.Set. "interests" holds a JSON array or a
// comma-separated list.
const (
	KeyName      = "name"
	KeyLocale    = "locale"
	KeyUnits     = "units"
	KeyTone      = "communication.tone"
	KeyVerbosity = "communication.verbosity"
	KeyInterests = "interests"
)

var validKeys = map[string]bool{
	KeyName:      true,
	KeyLocale:    true,
	KeyUnits:     true,
	KeyTone:      true,
	KeyVerbosity: true,
	KeyInterests: true,
}
