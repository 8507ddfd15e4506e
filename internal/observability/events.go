package observability

// EventEnvelope is the wire shape for every lifecycle event published to the
// bus. Payload stays schemaless; consumers key off EventType and EventName.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// BuildHeaders carries request correlation onto the published message so a
// websocket session can be tied back to the HTTP handshake that opened it.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
