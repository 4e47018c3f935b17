package upstream

import (
	"encoding/json"
)

// SchemaVersion names the response shapes validated in this package.
const SchemaVersion = "v1"

type ChatRequest struct {
	Message     string `json:"message"`
	Model       string `json:"model,omitempty"`
	AutoConfirm bool   `json:"auto_confirm,omitempty"`
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	NextAction        string
	SimplifiedMessage string
	Response          string
	ChatHistory       []HistoryEntry
}

// chatResponseV1 uses pointers so missing fields can be told apart from
// empty ones.
type chatResponseV1 struct {
	NextAction        *string         `json:"next_action"`
	SimplifiedMessage *string         `json:"simplified_message"`
	Response          *string         `json:"response"`
	ChatHistory       *[]HistoryEntry `json:"chat_history"`
}

func (w chatResponseV1) validate() (*ChatResponse, error) {
	if w.NextAction == nil {
		return nil, malformed("chat response missing next_action")
	}
	if w.ChatHistory == nil {
		return nil, malformed("chat response missing chat_history")
	}
	for i, entry := range *w.ChatHistory {
		if entry.Role != "user" && entry.Role != "assistant" {
			return nil, malformed("chat_history[%d] has role %q", i, entry.Role)
		}
	}

	out := &ChatResponse{
		NextAction:  *w.NextAction,
		ChatHistory: *w.ChatHistory,
	}
	if w.SimplifiedMessage != nil {
		out.SimplifiedMessage = *w.SimplifiedMessage
	}
	if w.Response != nil {
		out.Response = *w.Response
	}
	return out, nil
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type PerformanceSpecs struct {
	TorqueRange string `json:"torque_range,omitempty"`
	Speed       string `json:"speed,omitempty"`
	Accuracy    string `json:"accuracy,omitempty"`
	Precision   string `json:"precision,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type ElectricalSpecs struct {
	PowerSupply    string `json:"power_supply,omitempty"`
	ControlVoltage string `json:"control_voltage,omitempty"`
	OutputType     string `json:"output_type,omitempty"`
}

type MechanicalSpecs struct {
	Dimensions      string     `json:"dimensions,omitempty"`
	Weight          string     `json:"weight,omitempty"`
	MountingOptions StringList `json:"mounting_options,omitempty"`
}

type EnvironmentalSpecs struct {
	OperatingTemp        string `json:"operating_temp,omitempty"`
	StorageTemp          string `json:"storage_temp,omitempty"`
	EnvironmentalRatings string `json:"environmental_ratings,omitempty"`
}

type Specifications struct {
	Performance   *PerformanceSpecs   `json:"performance,omitempty"`
	Electrical    *ElectricalSpecs    `json:"electrical,omitempty"`
	Mechanical    *MechanicalSpecs    `json:"mechanical,omitempty"`
	Environmental *EnvironmentalSpecs `json:"environmental,omitempty"`
}

type SourceInfo struct {
	Filename   string `json:"filename,omitempty"`
	UploadDate string `json:"upload_date,omitempty"`
	PageCount  int    `json:"page_count,omitempty"`
}

type SensorRecord struct {
	ID             string                 `json:"_id,omitempty"`
	SensorType     string                 `json:"sensor_type"`
	Manufacturer   string                 `json:"manufacturer"`
	Model          string                 `json:"model"`
	Specifications Specifications         `json:"specifications"`
	ExtraFields    map[string]interface{} `json:"extra_fields,omitempty"`
	Source         *SourceInfo            `json:"source,omitempty"`
}

func (r *SensorRecord) validate() error {
	if r.Model == "" {
		return malformed("sensor record missing model")
	}
	return nil
}

type SensorList struct {
	Total   int            `json:"total"`
	Sensors []SensorRecord `json:"sensors"`
}

type UploadResult struct {
	ProcessedModel string                            `json:"processed_model,omitempty"`
	Message        string                            `json:"message,omitempty"`
	NextAction     string                            `json:"next_action,omitempty"`
	Specifications map[string]map[string]interface{} `json:"specifications,omitempty"`
	Detail         string                            `json:"detail,omitempty"`
}

func (r *UploadResult) validate() error {
	if r.ProcessedModel == "" && r.Message == "" && r.NextAction == "" {
		return malformed("upload response has neither processed_model nor message")
	}
	return nil
}

// Summary is a one-line description suitable for the chat history.
func (r *UploadResult) Summary() string {
	switch {
	case r.ProcessedModel != "" && r.Message != "":
		return r.Message + " (model " + r.ProcessedModel + ")"
	case r.ProcessedModel != "":
		return "Datasheet processed for model " + r.ProcessedModel + "."
	default:
		return r.Message
	}
}
