package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NewEnvelope marshals data and wraps it in an Envelope with a fresh
// UUIDv4 msgId, the scheme every signalling message uses.
func NewEnvelope(msgType MsgType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshaling %s data: %w", msgType, err)
	}
	return Envelope{
		MsgType: msgType,
		MsgID:   uuid.NewString(),
		Data:    raw,
	}, nil
}

// DecodeVersionNegotiation unmarshals an envelope's data as
// VersionNegotiationData.
func DecodeVersionNegotiation(e Envelope) (VersionNegotiationData, error) {
	var d VersionNegotiationData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeSendRequest unmarshals an envelope's data as SendRequestData.
func DecodeSendRequest(e Envelope) (SendRequestData, error) {
	var d SendRequestData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeConfirmReceive unmarshals an envelope's data as ConfirmReceiveData.
func DecodeConfirmReceive(e Envelope) (ConfirmReceiveData, error) {
	var d ConfirmReceiveData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeCancel unmarshals an envelope's data as CancelData.
func DecodeCancel(e Envelope) (CancelData, error) {
	var d CancelData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}

// DecodeProgressUpdate unmarshals an envelope's data as ProgressUpdateData.
func DecodeProgressUpdate(e Envelope) (ProgressUpdateData, error) {
	var d ProgressUpdateData
	err := json.Unmarshal(e.Data, &d)
	return d, err
}
