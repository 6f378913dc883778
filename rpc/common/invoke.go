package common

import (
	"fmt"

	"github.com/ValentinKolb/shmrt/lib/entityid"
)

// --------------------------------------------------------------------------
// Invoke enums
// --------------------------------------------------------------------------

// Source identifies the kind of peer that produced a message.
type Source uint8

const (
	SourceClient Source = iota + 1
	SourceHost
	SourceWorker
	SourceDebugger
)

func (s Source) String() string {
	switch s {
	case SourceClient:
		return "client"
	case SourceHost:
		return "host"
	case SourceWorker:
		return "worker"
	case SourceDebugger:
		return "debugger"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ContentType is the encoding of invoke arguments and results.
type ContentType uint8

const (
	ContentBinary ContentType = iota + 1
	ContentJSON
)

func (c ContentType) String() string {
	switch c {
	case ContentBinary:
		return "binary"
	case ContentJSON:
		return "json"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// InvokeError is the application level outcome of an invocation.
type InvokeError uint8

const (
	InvokeErrNone InvokeError = iota
	InvokeErrDeserializeRequestFailed
	InvokeErrServiceNotFound
	InvokeErrServiceInnerError
	InvokeErrSessionNotFound
	InvokeErrSerializeResponseFailed
)

func (e InvokeError) String() string {
	switch e {
	case InvokeErrNone:
		return "None"
	case InvokeErrDeserializeRequestFailed:
		return "DeserializeRequestFailed"
	case InvokeErrServiceNotFound:
		return "ServiceNotFound"
	case InvokeErrServiceInnerError:
		return "ServiceInnerError"
	case InvokeErrSessionNotFound:
		return "SessionNotFound"
	case InvokeErrSerializeResponseFailed:
		return "SerializeResponseFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(e))
	}
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// SessionNode is one organizational node on the routed path of a caller.
type SessionNode struct {
	ID   entityid.ID
	Type uint8
	Name string
}

// Session describes the caller of an invocation.
type Session struct {
	Path       []SessionNode
	IsExternal bool
	Tag        string
}

const sessionNodeMinSize = entityid.Size + 1 + 2

func (s *Session) sizeBytes() int {
	size := 2 + 1 + sizeString(s.Tag)
	for i := range s.Path {
		size += sessionNodeMinSize + len(s.Path[i].Name)
	}
	return size
}

func (s *Session) encode(e *Encoder) {
	e.Count(len(s.Path))
	for i := range s.Path {
		e.ID(s.Path[i].ID)
		e.U8(s.Path[i].Type)
		e.String(s.Path[i].Name)
	}
	e.Bool(s.IsExternal)
	e.String(s.Tag)
}

func (s *Session) decode(d *Decoder) {
	n := d.Count("session path", sessionNodeMinSize)
	if n > 0 {
		s.Path = make([]SessionNode, n)
	}
	for i := 0; i < n; i++ {
		s.Path[i].ID = d.ID("session node id")
		s.Path[i].Type = d.U8("session node type")
		s.Path[i].Name = d.String("session node name")
	}
	s.IsExternal = d.Bool("session external flag")
	s.Tag = d.String("session tag")
}

// --------------------------------------------------------------------------
// InvokeRequire / InvokeResponse
// --------------------------------------------------------------------------

// InvokeRequire calls a service. Args is the serialized argument blob in the
// encoding named by ContentType; after decoding it is a private copy of the receiver.
//
// Layout: source u8, content type u8, token u64, message id (16 bytes),
// service (string), args (bytes), session present u8, [session].
type InvokeRequire struct {
	Source      Source
	ContentType ContentType
	Token       uint64
	MessageID   entityid.ID
	Service     string
	Args        []byte
	Session     *Session
}

func (m *InvokeRequire) Kind() MessageKind     { return KindInvokeRequire }
func (m *InvokeRequire) GetToken() uint64      { return m.Token }
func (m *InvokeRequire) SetToken(token uint64) { m.Token = token }

func (m *InvokeRequire) SizeBytes() int {
	size := 1 + 1 + 8 + entityid.Size + sizeString(m.Service) + sizeBytes(m.Args) + 1
	if m.Session != nil {
		size += m.Session.sizeBytes()
	}
	return size
}

func (m *InvokeRequire) Encode(e *Encoder) {
	e.U8(uint8(m.Source))
	e.U8(uint8(m.ContentType))
	e.U64(m.Token)
	e.ID(m.MessageID)
	e.String(m.Service)
	e.Bytes(m.Args)
	e.Bool(m.Session != nil)
	if m.Session != nil {
		m.Session.encode(e)
	}
}

func (m *InvokeRequire) Decode(d *Decoder) error {
	m.Source = Source(d.U8("source"))
	m.ContentType = ContentType(d.U8("content type"))
	m.Token = d.U64("token")
	m.MessageID = d.ID("message id")
	m.Service = d.String("service")
	m.Args = d.BytesCopy("args")
	if d.Bool("session flag") {
		m.Session = &Session{}
		m.Session.decode(d)
	}
	return d.Err()
}

// InvokeResponse answers an InvokeRequire. On InvokeErrNone Result holds the
// serialized result, otherwise ErrorMsg describes the failure.
//
// Layout: source u8, content type u8, token u64, message id (16 bytes),
// error u8, result (bytes), error message (string).
type InvokeResponse struct {
	Source      Source
	ContentType ContentType
	Token       uint64
	MessageID   entityid.ID
	Error       InvokeError
	Result      []byte
	ErrorMsg    string
}

func (m *InvokeResponse) Kind() MessageKind     { return KindInvokeResponse }
func (m *InvokeResponse) GetToken() uint64      { return m.Token }
func (m *InvokeResponse) SetToken(token uint64) { m.Token = token }

func (m *InvokeResponse) SizeBytes() int {
	return 1 + 1 + 8 + entityid.Size + 1 + sizeBytes(m.Result) + sizeString(m.ErrorMsg)
}

func (m *InvokeResponse) Encode(e *Encoder) {
	e.U8(uint8(m.Source))
	e.U8(uint8(m.ContentType))
	e.U64(m.Token)
	e.ID(m.MessageID)
	e.U8(uint8(m.Error))
	e.Bytes(m.Result)
	e.String(m.ErrorMsg)
}

func (m *InvokeResponse) Decode(d *Decoder) error {
	m.Source = Source(d.U8("source"))
	m.ContentType = ContentType(d.U8("content type"))
	m.Token = d.U64("token")
	m.MessageID = d.ID("message id")
	m.Error = InvokeError(d.U8("error code"))
	m.Result = d.BytesCopy("result")
	m.ErrorMsg = d.String("error message")
	return d.Err()
}
