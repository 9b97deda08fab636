package nostr

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// parseEventFrame decodes a relay-delivered ["EVENT", sub_id, event] frame. Any other frame shape
// (["EOSE", ...], ["NOTICE", ...], etc.) returns (nil, nil) and is silently ignored by the caller.
func parseEventFrame(payload []byte) (*Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(err, "decode frame array")
	}

	if len(raw) < 3 {
		return nil, nil
	}

	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return nil, errors.Wrap(err, "decode frame label")
	}
	if label != "EVENT" {
		return nil, nil
	}

	var event Event
	if err := json.Unmarshal(raw[2], &event); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}

	return &event, nil
}
