// Package transport defines the message channel contract shared by hosts and
// workers. A channel carries catalog messages (see package common) in both
// directions and correlates requests with responses by token.
//
// Key Components:
//
//   - IChannel: Call, Post, RegisterHandler, Serve, Stats and Close.
//
//   - HandleFunc: callback for incoming requests and events.
//
//   - shm: the implementation over a pair of shared memory message queues.
package transport
