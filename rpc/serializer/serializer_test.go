package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/shmrt/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IPayloadSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

type echoArgs struct {
	Text   string
	Repeat int
	Tags   []string
	Blob   []byte
	Nested *echoNested
}

type echoNested struct {
	Score float64
	Flags map[string]bool
}

// testPayloads creates a set of test payloads with different fields filled
func testPayloads() map[string]echoArgs {
	return map[string]echoArgs{
		"Minimal": {Text: "x"},
		"Lists":   {Text: "hello", Repeat: 3, Tags: []string{"a", "b"}},
		"Binary":  {Text: "bin", Blob: []byte{0, 1, 2, 254, 255}},
		"Nested":  {Text: "n", Nested: &echoNested{Score: 0.5, Flags: map[string]bool{"on": true}}},
		"Unicode": {Text: "你好世界", Repeat: -1},
	}
}

// TestSerializerRoundTrip tests that payloads can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		for payloadName, payload := range testPayloads() {
			t.Run(name+"_"+payloadName, func(t *testing.T) {
				s := factory()

				data, err := s.Serialize(payload)
				if err != nil {
					t.Fatalf("Serialize() error = %v", err)
				}

				var out echoArgs
				if err := s.Deserialize(data, &out); err != nil {
					t.Fatalf("Deserialize() error = %v", err)
				}
				if !reflect.DeepEqual(out, payload) {
					t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", out, payload)
				}
			})
		}
	}
}

// TestContentType tests that ForContentType returns the serializer that produced a content type
func TestContentType(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			found, err := ForContentType(s.ContentType())
			if err != nil {
				t.Fatalf("ForContentType(%s) error = %v", s.ContentType(), err)
			}
			if reflect.TypeOf(found) != reflect.TypeOf(s) {
				t.Errorf("ForContentType(%s) = %T, want %T", s.ContentType(), found, s)
			}
		})
	}

	if _, err := ForContentType(common.ContentType(0)); err == nil {
		t.Errorf("expected error for unknown content type")
	}
}

// TestDeserializeErrors tests that corrupt input is reported as error
func TestDeserializeErrors(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var out echoArgs
			if err := factory().Deserialize([]byte{0xFF, 0x00, 0x13}, &out); err == nil {
				t.Errorf("expected error for corrupt data")
			}
		})
	}
}
