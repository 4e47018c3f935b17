package panel

import "strings"

const ConfirmedResultText = "Sensor setup confirmed. Proceeding with setup."

// confirmationPhrases force question mode whatever the signal says. Upstream
// sometimes asks for confirmation while sending a different next_action.
// TODO: drop this list once upstream /chat emits confirm_sensor for every
// confirmation prompt.
var confirmationPhrases = []string{
	"match your needs",
	"please respond with",
	"yes or no",
	"does this sensor match",
}

// NeedsConfirmation reports whether text contains one of the confirmation
// phrases, ignoring case.
func NeedsConfirmation(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Reconcile returns the panel state that follows cur after receiving signal
// and text from upstream. It has no side effects. The latest signal always
// wins; history plays no part.
func Reconcile(signal ActionSignal, text string, cur State) State {
	if cur.Mode == "" || cur.Mode == ModeLoading {
		base := DefaultState()
		base.Loading = cur.Loading
		cur = base
	}

	var next State
	switch signal {
	case SignalConfirmSensor:
		next = State{Mode: ModeQuestion, ButtonsEnabled: true, Prompt: text}
	case SignalPDFUpload:
		next = State{Mode: ModeUpload, ButtonsEnabled: true, Prompt: text}
	case SignalContinue:
		next = State{Mode: ModeResult, ButtonsEnabled: true, ResultText: ConfirmedResultText, Prompt: text}
	case SignalLoading:
		next = cur
		next.Loading = true
		next.ButtonsEnabled = false
	default:
		next = DefaultState()
	}

	if NeedsConfirmation(text) {
		next = State{Mode: ModeQuestion, ButtonsEnabled: true, Prompt: text}
	}

	return next
}
