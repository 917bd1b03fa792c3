package bus

// Ack is the device's acknowledgement of a single command, correlated to the
// originating publish by request id. Unknown ids are logged and dropped.
type Ack struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Ack status values.
const (
	AckOK    = "ok"
	AckError = "error"
)

// StateSnapshot is the most recent state report published by the device.
// Every field is optional; pointer fields distinguish "absent" from zero.
type StateSnapshot struct {
	Battery        *int     `json:"battery,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Listening      *bool    `json:"listening,omitempty"`
	LastMotion     string   `json:"lastMotion,omitempty"`
	LastExpression string   `json:"lastExpression,omitempty"`
	Brightness     *int     `json:"brightness,omitempty"`
	UpdatedAt      string   `json:"updatedAt,omitempty"`
}
