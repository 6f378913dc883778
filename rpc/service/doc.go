// Package service implements the callee side of Invoke: a registry of named
// services that turns InvokeRequire into InvokeResponse. Hosts and workers
// both serve calls through a Registry.
//
// Errors returned by a service map to InvokeError codes: ErrBadArgs to
// DeserializeRequestFailed, ErrSessionNotFound to SessionNotFound, ErrBadResult
// to SerializeResponseFailed and anything else to ServiceInnerError.
package service
