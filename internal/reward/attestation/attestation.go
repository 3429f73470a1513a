// Package attestation encodes the interaction trail submitted alongside a
// settlement: a base64 JSON array of {event, timestampInSecond}.
package attestation

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"time"
)

type Event struct {
	Event             string `json:"event"`
	TimestampInSecond int64  `json:"timestampInSecond"`
}

func NewEvent(name string, at time.Time) Event {
	return Event{Event: name, TimestampInSecond: at.Unix()}
}

// Encode orders events by time, then name, and returns the encoded array.
// An empty input encodes as an empty array.
func Encode(events []Event) (string, error) {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampInSecond != ordered[j].TimestampInSecond {
			return ordered[i].TimestampInSecond < ordered[j].TimestampInSecond
		}
		return ordered[i].Event < ordered[j].Event
	})

	raw, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func Decode(encoded string) ([]Event, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}
