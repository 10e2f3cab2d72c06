package controllers

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getAlby/knostr.go/db/models"
)

const (
	MessageTypeReq   = "REQ"
	MessageTypeEvent = "EVENT"
	MessageTypeClose = "CLOSE"
	MessageTypePing  = "PING"

	MaxSubscriptionIDLength = 64
)

var errUnsupportedMessage = errors.New("unsupported message")

// clientMessage is an inbound frame split into its type and arguments.
type clientMessage struct {
	Type string
	Args []json.RawMessage
}

// parseClientMessage accepts any JSON array with at least two elements.
func parseClientMessage(data []byte) (*clientMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errUnsupportedMessage
	}
	if len(frame) < 2 {
		return nil, errUnsupportedMessage
	}
	return &clientMessage{Type: asText(frame[0]), Args: frame[1:]}, nil
}

// asText returns the string value of raw, or its JSON text when raw is not
// a string.
func asText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (m *clientMessage) subscriptionID() (string, error) {
	var id string
	if err := json.Unmarshal(m.Args[0], &id); err != nil {
		return "", errors.New("subscription id must be a string")
	}
	if len(id) == 0 || len(id) > MaxSubscriptionIDLength {
		return "", fmt.Errorf("subscription id must be between 1 and %d characters", MaxSubscriptionIDLength)
	}
	return id, nil
}

func (m *clientMessage) filters() ([]models.EventFilter, error) {
	filters := make([]models.EventFilter, 0, len(m.Args)-1)
	for _, raw := range m.Args[1:] {
		var filter models.EventFilter
		if err := json.Unmarshal(raw, &filter); err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

func (m *clientMessage) event() (*models.Event, error) {
	event := &models.Event{}
	if err := json.Unmarshal(m.Args[0], event); err != nil {
		return nil, err
	}
	return event, nil
}
