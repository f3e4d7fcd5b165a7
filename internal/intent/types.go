package intent

// Action names an external operation the assistant can perform.
type Action string

const (
	BookRide    Action = "book_ride"
	OrderFood   Action = "order_food"
	SendEmail   Action = "send_email"
	SendMessage Action = "send_message"
	SetReminder Action = "set_reminder"
	CreateEvent Action = "create_event"
)

// Parameters lists the parameter names each action accepts.
var Parameters = map[Action][]string{
	BookRide:    {"destination"},
	OrderFood:   {"item", "restaurant"},
	SendEmail:   {"recipient", "subject"},
	SendMessage: {"recipient", "body"},
	SetReminder: {"task", "when"},
	CreateEvent: {"title", "when"},
}

func (a Action) Valid() bool {
	_, ok := Parameters[a]
	return ok
}

// ActionIntent is a structured action request. Executable is false exactly
// when Action is empty.
type ActionIntent struct {
	Action     Action            `json:"action,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Executable bool              `json:"executable"`
}

func newIntent(a Action, params map[string]string) ActionIntent {
	if !a.Valid() {
		return ActionIntent{}
	}
	return ActionIntent{Action: a, Parameters: params, Executable: true}
}
