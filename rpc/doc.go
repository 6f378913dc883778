// Package rpc is the message layer between a host process and its worker.
// Both sides exchange typed messages over a pair of shared memory queues.
//
// The package is organized into several subpackages:
//
//   - common: The message catalog with its binary codec, configuration
//     structures and logging.
//
//   - transport: The channel abstraction with correlated calls, one-way posts and
//     a handler for incoming requests. The shm subpackage implements it on top of
//     the chunked message queue.
//
//   - serializer: Payload encodings (JSON, GOB) for service invocation arguments.
//
//   - service: Named services that either side can expose to the other.
//
//   - server: The host. It routes key-value operations and transactions onto the
//     storage groups and collects metrics.
//
//   - client: The worker. It provides the key-value and invoke clients, the
//     model cache and the metrics reporter.
//
//   - debug: Relays debug adapter protocol sessions between a debugger and the worker.
package rpc
