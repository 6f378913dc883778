// Package filter implements the row filter expressions evaluated by scans.
//
// An expression is a small tree of predicates over a row's key, schema version
// and value. It travels inside scan requests in a compact binary form:
//
//	op u8 | operands
//
//	KeyPrefix, ValueContains  u32 length, bytes
//	SchemaVersionEq           u32 version
//	And, Or                   u16 child count, children
//	Not                       child
//
// All integers are big-endian. A nil expression matches every row.
package filter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Op identifies a node of the expression tree.
type Op uint8

const (
	OpKeyPrefix Op = iota + 1
	OpValueContains
	OpSchemaVersionEq
	OpAnd
	OpOr
	OpNot
)

func (op Op) String() string {
	switch op {
	case OpKeyPrefix:
		return "KeyPrefix"
	case OpValueContains:
		return "ValueContains"
	case OpSchemaVersionEq:
		return "SchemaVersionEq"
	case OpAnd:
		return "And"
	case OpOr:
		return "Or"
	case OpNot:
		return "Not"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(op))
	}
}

// MaxDepth bounds the nesting of decoded expressions.
const MaxDepth = 32

var (
	ErrInvalidExpr = errors.New("filter: invalid expression")
	ErrTooDeep     = errors.New("filter: expression nested too deep")
)

// Expr is a node of a filter expression.
type Expr struct {
	Op       Op
	Arg      []byte  // KeyPrefix, ValueContains
	Version  uint32  // SchemaVersionEq
	Children []*Expr // And, Or, Not
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

func KeyPrefix(prefix []byte) *Expr { return &Expr{Op: OpKeyPrefix, Arg: prefix} }

func ValueContains(sub []byte) *Expr { return &Expr{Op: OpValueContains, Arg: sub} }

func SchemaVersionEq(v uint32) *Expr { return &Expr{Op: OpSchemaVersionEq, Version: v} }

// And matches if all children match. An empty And matches everything.
func And(children ...*Expr) *Expr { return &Expr{Op: OpAnd, Children: children} }

// Or matches if any child matches. An empty Or matches nothing.
func Or(children ...*Expr) *Expr { return &Expr{Op: OpOr, Children: children} }

func Not(child *Expr) *Expr { return &Expr{Op: OpNot, Children: []*Expr{child}} }

// --------------------------------------------------------------------------
// Evaluation
// --------------------------------------------------------------------------

// Match evaluates the expression against one row.
func (e *Expr) Match(key []byte, schema uint32, value []byte) bool {
	if e == nil {
		return true
	}
	switch e.Op {
	case OpKeyPrefix:
		return bytes.HasPrefix(key, e.Arg)
	case OpValueContains:
		return bytes.Contains(value, e.Arg)
	case OpSchemaVersionEq:
		return schema == e.Version
	case OpAnd:
		for _, c := range e.Children {
			if !c.Match(key, schema, value) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range e.Children {
			if c.Match(key, schema, value) {
				return true
			}
		}
		return false
	case OpNot:
		return len(e.Children) == 1 && !e.Children[0].Match(key, schema, value)
	default:
		return false
	}
}

func (e *Expr) String() string {
	if e == nil {
		return "All"
	}
	switch e.Op {
	case OpKeyPrefix, OpValueContains:
		return fmt.Sprintf("%s(%q)", e.Op, e.Arg)
	case OpSchemaVersionEq:
		return fmt.Sprintf("%s(%d)", e.Op, e.Version)
	default:
		parts := make([]string, len(e.Children))
		for i, c := range e.Children {
			parts[i] = c.String()
		}
		return fmt.Sprintf("%s(%s)", e.Op, strings.Join(parts, ", "))
	}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// SizeBytes returns the exact number of bytes Encode produces.
func (e *Expr) SizeBytes() int {
	if e == nil {
		return 0
	}
	switch e.Op {
	case OpKeyPrefix, OpValueContains:
		return 1 + 4 + len(e.Arg)
	case OpSchemaVersionEq:
		return 1 + 4
	case OpAnd, OpOr:
		size := 1 + 2
		for _, c := range e.Children {
			size += c.SizeBytes()
		}
		return size
	case OpNot:
		return 1 + e.Children[0].SizeBytes()
	default:
		return 1
	}
}

// Encode serializes the expression. A nil expression encodes to nil.
func Encode(e *Expr) []byte {
	if e == nil {
		return nil
	}
	buf := make([]byte, 0, e.SizeBytes())
	return e.appendTo(buf)
}

func (e *Expr) appendTo(buf []byte) []byte {
	buf = append(buf, byte(e.Op))
	switch e.Op {
	case OpKeyPrefix, OpValueContains:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Arg)))
		buf = append(buf, e.Arg...)
	case OpSchemaVersionEq:
		buf = binary.BigEndian.AppendUint32(buf, e.Version)
	case OpAnd, OpOr:
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Children)))
		for _, c := range e.Children {
			buf = c.appendTo(buf)
		}
	case OpNot:
		buf = e.Children[0].appendTo(buf)
	}
	return buf
}

// Decode parses an encoded expression. Empty input decodes to nil (match all).
// Trailing bytes are an error.
func Decode(data []byte) (*Expr, error) {
	if len(data) == 0 {
		return nil, nil
	}
	e, n, err := decode(data, 0)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidExpr, len(data)-n)
	}
	return e, nil
}

func decode(data []byte, depth int) (*Expr, int, error) {
	if depth >= MaxDepth {
		return nil, 0, ErrTooDeep
	}
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: data too short for op", ErrInvalidExpr)
	}
	e := &Expr{Op: Op(data[0])}
	pos := 1

	switch e.Op {
	case OpKeyPrefix, OpValueContains:
		if len(data) < pos+4 {
			return nil, 0, fmt.Errorf("%w: data too short for argument length", ErrInvalidExpr)
		}
		n := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if len(data)-pos < n {
			return nil, 0, fmt.Errorf("%w: data too short for argument of length %d", ErrInvalidExpr, n)
		}
		e.Arg = append([]byte(nil), data[pos:pos+n]...)
		pos += n
	case OpSchemaVersionEq:
		if len(data) < pos+4 {
			return nil, 0, fmt.Errorf("%w: data too short for schema version", ErrInvalidExpr)
		}
		e.Version = binary.BigEndian.Uint32(data[pos:])
		pos += 4
	case OpAnd, OpOr:
		if len(data) < pos+2 {
			return nil, 0, fmt.Errorf("%w: data too short for child count", ErrInvalidExpr)
		}
		count := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		e.Children = make([]*Expr, 0, count)
		for i := 0; i < count; i++ {
			c, n, err := decode(data[pos:], depth+1)
			if err != nil {
				return nil, 0, err
			}
			e.Children = append(e.Children, c)
			pos += n
		}
	case OpNot:
		c, n, err := decode(data[pos:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		e.Children = []*Expr{c}
		pos += n
	default:
		return nil, 0, fmt.Errorf("%w: unknown op %d", ErrInvalidExpr, data[0])
	}
	return e, pos, nil
}
