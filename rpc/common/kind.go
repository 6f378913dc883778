package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Kind Definition
// --------------------------------------------------------------------------

// MessageKind is the first byte of every message on a channel. Zero is never valid.
type MessageKind uint8

const (
	// Service invocation

	KindInvokeRequire  MessageKind = 1
	KindInvokeResponse MessageKind = 2

	// KV requests

	KindKVInsert      MessageKind = 10
	KindKVUpdate      MessageKind = 11
	KindKVDelete      MessageKind = 12
	KindKVGet         MessageKind = 13
	KindKVScan        MessageKind = 14
	KindKVAddRef      MessageKind = 15
	KindKVAlterSchema MessageKind = 16
	KindKVDropTable   MessageKind = 17

	// Transactions

	KindKVBeginTxn    MessageKind = 20
	KindKVCommitTxn   MessageKind = 21
	KindKVRollbackTxn MessageKind = 22

	// KV responses

	KindKVCommandResponse  MessageKind = 30
	KindKVGetResponse      MessageKind = 31
	KindKVScanResponse     MessageKind = 32
	KindKVBeginTxnResponse MessageKind = 33

	// Operational signalling

	KindGenPartitionRequest  MessageKind = 40
	KindGenPartitionResponse MessageKind = 41
	KindInvalidModelsCache   MessageKind = 50
	KindMetricReport         MessageKind = 60
	KindDebugEvent           MessageKind = 70
)

// ErrUnknownKind is returned for kinds outside the catalog. It is a protocol error:
// the message is dropped, the channel keeps working.
var ErrUnknownKind = errors.New("unknown message kind")

var kindNames = map[MessageKind]string{
	KindInvokeRequire:        "invokeRequire",
	KindInvokeResponse:       "invokeResponse",
	KindKVInsert:             "kvInsert",
	KindKVUpdate:             "kvUpdate",
	KindKVDelete:             "kvDelete",
	KindKVGet:                "kvGet",
	KindKVScan:               "kvScan",
	KindKVAddRef:             "kvAddRef",
	KindKVAlterSchema:        "kvAlterSchema",
	KindKVDropTable:          "kvDropTable",
	KindKVBeginTxn:           "kvBeginTxn",
	KindKVCommitTxn:          "kvCommitTxn",
	KindKVRollbackTxn:        "kvRollbackTxn",
	KindKVCommandResponse:    "kvCommandResponse",
	KindKVGetResponse:        "kvGetResponse",
	KindKVScanResponse:       "kvScanResponse",
	KindKVBeginTxnResponse:   "kvBeginTxnResponse",
	KindGenPartitionRequest:  "genPartitionRequest",
	KindGenPartitionResponse: "genPartitionResponse",
	KindInvalidModelsCache:   "invalidModelsCache",
	KindMetricReport:         "metricReport",
	KindDebugEvent:           "debugEvent",
}

// String returns the string representation of a MessageKind.
func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Valid reports whether k is part of the catalog.
func (k MessageKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsResponse reports whether messages of kind k answer a pending call.
func IsResponse(k MessageKind) bool {
	switch k {
	case KindInvokeResponse, KindKVCommandResponse, KindKVGetResponse, KindKVScanResponse,
		KindKVBeginTxnResponse, KindGenPartitionResponse:
		return true
	default:
		return false
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageKind.
// This allows MessageKind to be serialized as a string in JSON.
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageKind.
func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownKind, s)
}
