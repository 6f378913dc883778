package serializer

import (
	"fmt"

	"github.com/ValentinKolb/shmrt/rpc/common"
)

// IPayloadSerializer converts invoke arguments and results to bytes. The channel
// treats the output as an opaque blob, ContentType tells the receiving side which
// serializer produced it.
type IPayloadSerializer interface {
	// ContentType is the content encoding written into InvokeRequire and InvokeResponse
	ContentType() common.ContentType
	// Serialize serializes v into a byte array
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into the value pointed to by v
	Deserialize(b []byte, v any) error
}

// ForContentType returns the serializer for a content encoding.
func ForContentType(ct common.ContentType) (IPayloadSerializer, error) {
	switch ct {
	case common.ContentJSON:
		return NewJSONSerializer(), nil
	case common.ContentBinary:
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("no serializer for content type %s", ct)
	}
}
