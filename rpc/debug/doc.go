// Package debug bridges debug adapter protocol sessions over a channel.
//
// A debugger speaks frames of the form "Content-Length: <n>\r\n\r\n<body>"
// (ReadFrame, WriteFrame). The Bridge carries each body as a DebugEvent tagged
// with the session id, so one process can relay a stdio debug adapter to the
// host. Every session uses its own channel named ChannelName(base, session).
package debug
