package acs

import "encoding/json"

// Event Grid and Call Automation event types the gateway reacts to.
const (
	EventSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	EventIncomingCall           = "Microsoft.Communication.IncomingCall"

	EventCallConnected         = "Microsoft.Communication.CallConnected"
	EventCallDisconnected      = "Microsoft.Communication.CallDisconnected"
	EventMediaStreamingStarted = "Microsoft.Communication.MediaStreamingStarted"
	EventMediaStreamingStopped = "Microsoft.Communication.MediaStreamingStopped"
	EventMediaStreamingFailed  = "Microsoft.Communication.MediaStreamingFailed"
)

// GridEvent is an Event Grid envelope; Data is decoded per EventType.
type GridEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
}

// SubscriptionValidationData is the handshake payload Event Grid sends when
// a webhook subscription is created.
type SubscriptionValidationData struct {
	ValidationCode string `json:"validationCode"`
}

// IncomingCallData is the payload of an IncomingCall event.
type IncomingCallData struct {
	IncomingCallContext string    `json:"incomingCallContext"`
	From                CallParty `json:"from"`
	To                  CallParty `json:"to"`
	CorrelationID       string    `json:"correlationId"`
}

// CallParty identifies one side of a call.
type CallParty struct {
	Kind        string `json:"kind"`
	RawID       string `json:"rawId"`
	PhoneNumber *struct {
		Value string `json:"value"`
	} `json:"phoneNumber"`
}

// CallerID returns the party's phone number when present, its raw id
// otherwise.
func (p CallParty) CallerID() string {
	if p.Kind == "phoneNumber" && p.PhoneNumber != nil {
		return p.PhoneNumber.Value
	}
	return p.RawID
}

// CallbackEvent is a Call Automation lifecycle callback.
type CallbackEvent struct {
	Type string            `json:"type"`
	Data CallbackEventData `json:"data"`
}

// CallbackEventData carries the fields shared by lifecycle callbacks.
type CallbackEventData struct {
	CallConnectionID     string `json:"callConnectionId"`
	CorrelationID        string `json:"correlationId"`
	MediaStreamingUpdate *struct {
		ContentType                 string `json:"contentType"`
		MediaStreamingStatus        string `json:"mediaStreamingStatus"`
		MediaStreamingStatusDetails string `json:"mediaStreamingStatusDetails"`
	} `json:"mediaStreamingUpdate"`
	ResultInformation *struct {
		Code    int    `json:"code"`
		SubCode int    `json:"subCode"`
		Message string `json:"message"`
	} `json:"resultInformation"`
}
