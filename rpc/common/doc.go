// Package common provides the message catalog and the shared configuration of
// the host/worker runtime. It defines the binary wire format of every message,
// the configuration structures of host and worker processes and the custom
// logger used by all packages.
//
// Key Components:
//
//   - MessageKind: The first byte of every message. Unknown kinds are rejected with
//     ErrUnknownKind, which the channel treats as a protocol error.
//
//   - Message: One entry of the catalog (invoke, KV requests and responses,
//     transactions, partition ids, cache invalidation, metrics, debug events).
//     Each message has a fixed field order encoded by Encoder and decoded by
//     Decoder: big endian integers, byte fields with a 4 byte length prefix and
//     strings with a 2 byte length prefix. Marshal and Unmarshal convert between
//     messages and payloads.
//
//   - Ownership: Key, value, refs and filter fields are nativebuf.Owned buffers.
//     The sender frees its buffers after Marshal, Unmarshal allocates new buffers
//     which belong to the receiver (see Release).
//
//   - HostConfig, WorkerConfig and ChannelConfig: Configuration of host and worker
//     processes, including the conversion to Dragonboat configurations for raft
//     backed groups.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
