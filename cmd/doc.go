// Package cmd implements the command-line interface of shmrt. It provides a
// hierarchical command structure to run both sides of a channel and to
// interact with a running host.
//
// The package is organized into several subpackages:
//
//   - host: Creates the channel and serves the storage engine and host services
//   - worker: Attaches to a host and runs demo services with metric reporting
//   - kv: Key-value operations and a benchmark against a running host
//   - id: Generation and inspection of entity ids
//   - debugadapter: Relays a debug adapter protocol stream on stdio to a host
//   - shell: Interactive key-value shell
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set as environment variables with the prefix SHMRT_
// (e.g. SHMRT_CHANNEL=demo), .env and .env.local are loaded on startup.
//
// See shmrt -help for a list of all commands.
package cmd
