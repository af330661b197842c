package interrupt

import (
	"encoding/json"
	"fmt"
)

// PendingChannel is the pending-write channel name under which an in-flight
// request is embedded in a checkpoint.
const PendingChannel = "__interrupt__"

// ToMap serializes the request for embedding in a checkpoint pending write.
func (r *Request) ToMap() (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal interrupt request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal interrupt request map: %w", err)
	}
	return m, nil
}

// RequestFromMap reconstructs a request embedded in a pending write. The
// round trip is verbatim: resuming sees exactly the request that suspended.
func RequestFromMap(m map[string]any) (*Request, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal pending write: %w", err)
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal interrupt request: %w", err)
	}
	if r.ID == "" || r.Action == "" {
		return nil, fmt.Errorf("pending write is not an interrupt request")
	}
	return &r, nil
}
