// Package util provides utility components shared by the storage engines and
// the transport layer.
//
// The package contains:
//   - statistics: Utility tools for analyzing distributions and a SizeHistogram for tracking data sizes
//   - functions: Seed generation and other small helpers
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue implementation build for high throughput and low latency
//
// This package is particularly useful for:
//   - Database developers implementing the KVDB interface
//   - Channels that funnel messages from many goroutines into one writer
//   - Monitoring systems that need to track size and distribution metrics
package util
