package panel

// Mode is what the multifunction panel presents.
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeQuestion Mode = "question"
	ModeUpload   Mode = "upload"
	ModeResult   Mode = "result"
	ModeLoading  Mode = "loading"
)

// State is the panel state for one conversation. Loading is an overlay on top
// of Mode: while it is set the panel shows a spinner but remembers the mode
// underneath.
type State struct {
	Mode           Mode   `json:"mode"`
	ButtonsEnabled bool   `json:"buttons_enabled"`
	Loading        bool   `json:"loading"`
	ResultText     string `json:"result_text,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
}

func DefaultState() State {
	return State{Mode: ModeDefault, ButtonsEnabled: true}
}

// DisplayMode collapses the overlay into a single mode value for clients that
// only render one field.
func (s State) DisplayMode() Mode {
	if s.Loading {
		return ModeLoading
	}
	if s.Mode == "" {
		return ModeDefault
	}
	return s.Mode
}
