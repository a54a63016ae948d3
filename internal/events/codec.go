// Package events delivers run notifications to observers: an in-process bus,
// the structured log, WebSocket clients and Redis pub/sub.
package events

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/mender/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode renders an event in its wire format.
func Encode(ev schemas.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}
	return data, nil
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (schemas.Event, error) {
	var ev schemas.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return schemas.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}
