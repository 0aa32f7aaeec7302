// Package models defines the audit events published for scored transcripts.
package models

// Event type names.
const (
	EventTypeScored = "fraud.call.scored"
	EventTypeAlert  = "fraud.call.alert"
)

// FragmentScored records one transcript fragment and the score it received.
type FragmentScored struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId"`
	CallSID   string  `json:"callSid,omitempty"`
	Channel   string  `json:"channel"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Timestamp int64   `json:"timestamp"`
}

// FraudAlertRaised records an alert sent (or attempted) to the companion app.
type FraudAlertRaised struct {
	EventType string  `json:"eventType"`
	SessionID string  `json:"sessionId"`
	CallSID   string  `json:"callSid,omitempty"`
	Channel   string  `json:"channel"`
	Reason    string  `json:"reason"`
	Score     float64 `json:"score"`
	Delivered bool    `json:"delivered"`
	Timestamp int64   `json:"timestamp"`
}
