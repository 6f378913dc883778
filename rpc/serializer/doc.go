// Package serializer provides the payload serializers of service invocations.
// The message catalog carries invoke arguments and results as opaque byte blobs,
// this package produces and consumes them.
//
// Key Components:
//
//   - IPayloadSerializer: Core interface that all serializer implementations must satisfy.
//     ContentType names the encoding so the receiving side can pick the matching
//     serializer with ForContentType.
//
//   - gobSerializerImpl: Binary content encoding using Go's gob format. Compact for
//     Go values, but only readable by Go peers.
//
//   - jsonSerializerImpl: JSON content encoding, useful for debugging or
//     interoperability with other systems.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	  s := serializer.NewJSONSerializer()
//	  args, err := s.Serialize(request)
//	  // ... send InvokeRequire{ContentType: s.ContentType(), Args: args} ...
//	  var result Result
//	  err = s.Deserialize(response.Result, &result)
package serializer
