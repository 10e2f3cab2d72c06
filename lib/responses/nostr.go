package responses

import (
	"encoding/json"
	"fmt"

	"github.com/getAlby/knostr.go/db/models"
)

// CommandResult is the ["OK", <event id>, <accepted>, <description>] reply to
// an EVENT message.
type CommandResult struct {
	EventID     string
	Accepted    bool
	Description string
}

func (r CommandResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{"OK", r.EventID, r.Accepted, r.Description})
}

func (r CommandResult) JSON() []byte {
	return mustMarshal(r)
}

func Ok(eventID string) CommandResult {
	return CommandResult{EventID: eventID, Accepted: true, Description: ""}
}

func Duplicate(eventID string) CommandResult {
	return CommandResult{EventID: eventID, Accepted: true, Description: "duplicate:"}
}

func Invalid(eventID, reason string) CommandResult {
	return CommandResult{EventID: eventID, Accepted: false, Description: "invalid: " + reason}
}

func Errorf(eventID, format string, args ...interface{}) CommandResult {
	return CommandResult{EventID: eventID, Accepted: false, Description: "error: " + fmt.Sprintf(format, args...)}
}

// NoticeResult is a ["NOTICE", <message>] reply.
type NoticeResult struct {
	Message string
}

func (n NoticeResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{"NOTICE", n.Message})
}

func (n NoticeResult) JSON() []byte {
	return mustMarshal(n)
}

func Notice(message string) *NoticeResult {
	return &NoticeResult{Message: message}
}

func InvalidNotice(message string) *NoticeResult {
	return &NoticeResult{Message: "invalid: " + message}
}

func BlockedNotice(message string) *NoticeResult {
	return &NoticeResult{Message: "blocked: " + message}
}

func RateLimitedNotice(message string) *NoticeResult {
	return &NoticeResult{Message: "rate-limited: " + message}
}

// EventMessage builds ["EVENT", <subscription id>, <event>].
func EventMessage(subscriptionID string, event *models.Event) []byte {
	return mustMarshal([]interface{}{"EVENT", subscriptionID, event})
}

// EndOfStoredEvents builds ["EOSE", <subscription id>].
func EndOfStoredEvents(subscriptionID string) []byte {
	return mustMarshal([]interface{}{"EOSE", subscriptionID})
}

// values passed here are strings, bools and events, which always encode
func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
