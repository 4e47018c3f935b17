package panel

import (
	"errors"
	"fmt"
	"strings"
)

// ActionSignal is the upstream hint about what the side panel should show
// next. The set is open: values outside the known constants can arrive and
// are treated as SignalNone.
type ActionSignal string

const (
	SignalNone          ActionSignal = "none"
	SignalConfirmSensor ActionSignal = "confirm_sensor"
	SignalPDFUpload     ActionSignal = "pdf_upload"
	SignalContinue      ActionSignal = "continue"
	SignalLoading       ActionSignal = "loading"
)

var ErrUnknownSignal = errors.New("unknown action signal")

func (s ActionSignal) Known() bool {
	switch s {
	case SignalNone, SignalConfirmSensor, SignalPDFUpload, SignalContinue, SignalLoading:
		return true
	}
	return false
}

// ParseSignal normalizes a raw next_action value. An empty value means none.
// Unrecognized values return SignalNone together with ErrUnknownSignal so the
// caller can log the anomaly; the returned signal is always usable.
func ParseSignal(raw string) (ActionSignal, error) {
	s := ActionSignal(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return SignalNone, nil
	}
	if !s.Known() {
		return SignalNone, fmt.Errorf("%w: %q", ErrUnknownSignal, raw)
	}
	return s, nil
}
