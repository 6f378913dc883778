package common

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Message Interface
// --------------------------------------------------------------------------

// Message is one entry of the message catalog. Every message has a fixed field
// order, encoded with Encoder and decoded with Decoder. The kind is not part of the
// payload, it travels in the chunk header.
type Message interface {
	Kind() MessageKind
	// SizeBytes returns the exact encoded size of the payload.
	SizeBytes() int
	Encode(e *Encoder)
	Decode(d *Decoder) error
}

// Correlated is a message that takes part in a request/response exchange. The
// response carries the token of its request.
type Correlated interface {
	Message
	GetToken() uint64
	SetToken(token uint64)
}

// Releaser is implemented by messages holding owned buffers. Free releases all of them.
type Releaser interface {
	Free()
}

// Release frees the owned buffers of msg if it holds any.
func Release(msg Message) {
	if r, ok := msg.(Releaser); ok {
		r.Free()
	}
}

// New returns an empty message of the given kind.
func New(kind MessageKind) (Message, error) {
	switch kind {
	case KindInvokeRequire:
		return &InvokeRequire{}, nil
	case KindInvokeResponse:
		return &InvokeResponse{}, nil
	case KindKVInsert:
		return &KVInsert{}, nil
	case KindKVUpdate:
		return &KVUpdate{}, nil
	case KindKVDelete:
		return &KVDelete{}, nil
	case KindKVGet:
		return &KVGet{}, nil
	case KindKVScan:
		return &KVScan{}, nil
	case KindKVAddRef:
		return &KVAddRef{}, nil
	case KindKVAlterSchema:
		return &KVAlterSchema{}, nil
	case KindKVDropTable:
		return &KVDropTable{}, nil
	case KindKVBeginTxn:
		return &KVBeginTxn{}, nil
	case KindKVCommitTxn:
		return &KVCommitTxn{}, nil
	case KindKVRollbackTxn:
		return &KVRollbackTxn{}, nil
	case KindKVCommandResponse:
		return &KVCommandResponse{}, nil
	case KindKVGetResponse:
		return &KVGetResponse{}, nil
	case KindKVScanResponse:
		return &KVScanResponse{}, nil
	case KindKVBeginTxnResponse:
		return &KVBeginTxnResponse{}, nil
	case KindGenPartitionRequest:
		return &GenPartitionRequest{}, nil
	case KindGenPartitionResponse:
		return &GenPartitionResponse{}, nil
	case KindInvalidModelsCache:
		return &InvalidModelsCache{}, nil
	case KindMetricReport:
		return &MetricReport{}, nil
	case KindDebugEvent:
		return &DebugEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
	}
}

// Marshal encodes the payload of msg.
func Marshal(msg Message) ([]byte, error) {
	e := NewEncoder(msg.SizeBytes())
	msg.Encode(e)
	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return e.Data(), nil
}

// Unmarshal decodes a payload of the given kind. Owned buffers of the result
// belong to the caller (see Release). On error nothing needs to be freed.
func Unmarshal(kind MessageKind, payload []byte) (Message, error) {
	msg, err := New(kind)
	if err != nil {
		return nil, err
	}
	d := NewDecoder(payload)
	err = msg.Decode(d)
	if err == nil {
		err = d.Finish()
	}
	if err != nil {
		Release(msg)
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return msg, nil
}
