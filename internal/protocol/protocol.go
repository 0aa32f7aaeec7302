// Package protocol defines the JSON frames exchanged on the media/control
// websocket: provider media-stream envelopes inbound, companion control events
// outbound.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an inbound envelope.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindAppConnect
	KindStart
	KindMedia
	KindStop
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindAppConnect:
		return "app_connect"
	case KindStart:
		return "start"
	case KindMedia:
		return "media"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Inbound event and type names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	TypeAppConnect = "app_connect"
)

// Outbound control event types.
const (
	TypeMergeSuccessful = "merge_successful"
	TypeFraudAlert      = "fraud_alert"
)

// ErrNotJSON is returned for frames that are not a JSON envelope.
var ErrNotJSON = errors.New("frame is not a JSON envelope")

// Envelope is one inbound frame. Provider frames carry Event, the companion
// handshake carries Type.
type Envelope struct {
	Event          string        `json:"event,omitempty"`
	Type           string        `json:"type,omitempty"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

// StartPayload describes the stream announced by a start frame.
type StartPayload struct {
	AccountSid  string       `json:"accountSid,omitempty"`
	CallSid     string       `json:"callSid,omitempty"`
	StreamSid   string       `json:"streamSid,omitempty"`
	Tracks      []string     `json:"tracks,omitempty"`
	MediaFormat *MediaFormat `json:"mediaFormat,omitempty"`
}

// MediaFormat is the wire audio format announced by the provider.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one chunk of base64 μ-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload is sent when the provider ends the stream.
type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// Kind resolves the envelope kind. The companion handshake wins over any
// event field.
func (e *Envelope) Kind() Kind {
	if e.Type == TypeAppConnect {
		return KindAppConnect
	}
	switch e.Event {
	case EventConnected:
		return KindConnected
	case EventStart:
		return KindStart
	case EventMedia:
		return KindMedia
	case EventStop:
		return KindStop
	default:
		return KindUnknown
	}
}

// CallSid returns the provider call id if the start frame carried one.
func (e *Envelope) CallSid() string {
	if e.Start != nil {
		return e.Start.CallSid
	}
	return ""
}

// Audio decodes the base64 μ-law payload of a media frame.
func (e *Envelope) Audio() ([]byte, error) {
	if e.Media == nil {
		return nil, errors.New("media frame without media payload")
	}
	b, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return b, nil
}

// Decode parses one inbound frame. Anything that is not a JSON object
// yields ErrNotJSON.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return &env, nil
}

// ControlEvent is an outbound message to the companion app.
type ControlEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// MergeSuccessful tells the app that audio is flowing through the merged call.
func MergeSuccessful() ControlEvent {
	return ControlEvent{Type: TypeMergeSuccessful}
}

// FraudAlert tells the app to warn the user.
func FraudAlert(reason string) ControlEvent {
	return ControlEvent{Type: TypeFraudAlert, Reason: reason}
}

// AppConnect is the handshake the companion app sends after connecting.
func AppConnect() Envelope {
	return Envelope{Type: TypeAppConnect}
}

// DecodeControlEvent parses an outbound control frame on the app side.
func DecodeControlEvent(frame []byte) (ControlEvent, error) {
	var ev ControlEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return ControlEvent{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if ev.Type == "" {
		return ControlEvent{}, errors.New("control event without type")
	}
	return ev, nil
}
