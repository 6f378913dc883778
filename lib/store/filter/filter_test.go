package filter

import (
	"bytes"
	"errors"
	"testing"
)

func TestMatch(t *testing.T) {
	key := []byte("users/42")
	value := []byte(`{"name":"ada"}`)

	tests := []struct {
		name     string
		expr     *Expr
		expected bool
	}{
		{"Nil", nil, true},
		{"KeyPrefix", KeyPrefix([]byte("users/")), true},
		{"KeyPrefixMiss", KeyPrefix([]byte("orders/")), false},
		{"ValueContains", ValueContains([]byte("ada")), true},
		{"ValueContainsMiss", ValueContains([]byte("bob")), false},
		{"SchemaVersion", SchemaVersionEq(3), true},
		{"SchemaVersionMiss", SchemaVersionEq(4), false},
		{"And", And(KeyPrefix([]byte("users/")), SchemaVersionEq(3)), true},
		{"AndMiss", And(KeyPrefix([]byte("users/")), SchemaVersionEq(4)), false},
		{"EmptyAnd", And(), true},
		{"Or", Or(SchemaVersionEq(4), ValueContains([]byte("ada"))), true},
		{"EmptyOr", Or(), false},
		{"Not", Not(ValueContains([]byte("bob"))), true},
		{"Nested", Not(Or(KeyPrefix([]byte("a")), And(SchemaVersionEq(3), Not(KeyPrefix([]byte("users/")))))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.expr.Match(key, 3, value); got != tt.expected {
				t.Errorf("%s.Match() = %v, want %v", tt.expr, got, tt.expected)
			}

			// the decoded form must behave identically
			decoded, err := Decode(Encode(tt.expr))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got := decoded.Match(key, 3, value); got != tt.expected {
				t.Errorf("decoded %s.Match() = %v, want %v", decoded, got, tt.expected)
			}
		})
	}
}

func TestEncodeSize(t *testing.T) {
	expr := And(KeyPrefix([]byte("ab")), Not(SchemaVersionEq(1)), Or())
	encoded := Encode(expr)

	if len(encoded) != expr.SizeBytes() {
		t.Errorf("len(Encode()) = %d, SizeBytes() = %d", len(encoded), expr.SizeBytes())
	}

	expected := []byte{
		byte(OpAnd), 0, 3,
		byte(OpKeyPrefix), 0, 0, 0, 2, 'a', 'b',
		byte(OpNot), byte(OpSchemaVersionEq), 0, 0, 0, 1,
		byte(OpOr), 0, 0,
	}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("Encode() = %v, want %v", encoded, expected)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"UnknownOp", []byte{0x7F}, ErrInvalidExpr},
		{"ShortArgLen", []byte{byte(OpKeyPrefix), 0, 0}, ErrInvalidExpr},
		{"ShortArg", []byte{byte(OpKeyPrefix), 0, 0, 0, 5, 'a'}, ErrInvalidExpr},
		{"ShortVersion", []byte{byte(OpSchemaVersionEq), 0}, ErrInvalidExpr},
		{"MissingChild", []byte{byte(OpAnd), 0, 2, byte(OpSchemaVersionEq), 0, 0, 0, 1}, ErrInvalidExpr},
		{"Trailing", []byte{byte(OpSchemaVersionEq), 0, 0, 0, 1, 0xFF}, ErrInvalidExpr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.err) {
				t.Errorf("Decode() error = %v, want %v", err, tt.err)
			}
		})
	}

	t.Run("TooDeep", func(t *testing.T) {
		expr := SchemaVersionEq(1)
		for i := 0; i < MaxDepth+1; i++ {
			expr = Not(expr)
		}
		if _, err := Decode(Encode(expr)); !errors.Is(err, ErrTooDeep) {
			t.Errorf("Decode() error = %v, want %v", err, ErrTooDeep)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		expr, err := Decode(nil)
		if err != nil || expr != nil {
			t.Errorf("Decode(nil) = %v, %v, want nil, nil", expr, err)
		}
	})
}
