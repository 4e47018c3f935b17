package panel

import "strings"

// SensorSummary is one entry of the listing shown while the panel is idle.
type SensorSummary struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	UseCase string `json:"use_case"`
}

var defaultSensors = []SensorSummary{
	{Name: "DS18B20", Type: "Temperature Sensor", UseCase: "Measure temperature in IoT projects"},
	{Name: "DHT22", Type: "Humidity Sensor", UseCase: "Monitor humidity and temperature"},
	{Name: "PIR Sensor", Type: "Motion Sensor", UseCase: "Detect motion for security systems"},
	{Name: "MQ-2", Type: "Gas Sensor", UseCase: "Detect gas leaks in smart homes"},
}

func DefaultSensors() []SensorSummary {
	out := make([]SensorSummary, len(defaultSensors))
	copy(out, defaultSensors)
	return out
}

// View is what a client needs to draw the panel.
type View struct {
	State
	Display  Mode            `json:"display"`
	Title    string          `json:"title"`
	Body     string          `json:"body,omitempty"`
	Actions  []string        `json:"actions,omitempty"`
	Sensors  []SensorSummary `json:"sensors,omitempty"`
	Model    string          `json:"model,omitempty"`
	Greeting string          `json:"greeting,omitempty"`
}

// ModelShortName strips the provider prefix from a model id such as
// "meta-llama/llama-3.1-8b-instruct".
func ModelShortName(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

func BuildView(s State, model string) View {
	v := View{State: s, Display: s.DisplayMode()}

	switch v.Display {
	case ModeLoading:
		v.Title = "Processing"
		v.Body = "Processing your request..."
	case ModeQuestion:
		v.Title = "Confirm sensor"
		v.Body = s.Prompt
		if s.ButtonsEnabled {
			v.Actions = []string{"yes", "no"}
		}
	case ModeUpload:
		v.Title = "Upload datasheet"
		v.Body = s.Prompt
		v.Actions = []string{"upload"}
	case ModeResult:
		v.Title = "Result"
		v.Body = s.ResultText
		v.Actions = []string{"back"}
	default:
		v.Title = "Available Sensors"
		v.Sensors = DefaultSensors()
		v.Model = ModelShortName(model)
		v.Greeting = "Ask about a sensor setup to get started!"
	}
	return v
}
