package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// keepAliveFrame is the comment written on connect and on every keep-alive
// tick. Comments are ignored by EventSource clients but reset idle timers on
// intermediaries.
var keepAliveFrame = []byte(": ping\n\n")

// encodeFrame renders a named server-push frame:
//
//	event: <name>
//	id: <id>
//	data: <json>
//
// followed by the blank line that terminates the frame.
func encodeFrame(name, id string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("broker: encode %s frame: %w", name, err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", name)
	if id != "" {
		fmt.Fprintf(&buf, "id: %s\n", id)
	}
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}
