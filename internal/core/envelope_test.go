package core

import (
	"errors"
	"testing"

	"github.com/dkeye/tablelink/internal/domain"
)

func codecs(t *testing.T) []Codec {
	t.Helper()
	cb, err := CBOR()
	if err != nil {
		t.Fatalf("CBOR: %v", err)
	}
	return []Codec{JSON(), cb}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	for _, c := range codecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			in := RoomInfoPayload{Members: []domain.Member{
				domain.NewMember("h", "GM", true),
				domain.NewMember("s1", "Alex", false),
			}}
			env, err := NewEnvelope(c, TypeRoomInfo, in, "h", "GM")
			if err != nil {
				t.Fatalf("NewEnvelope: %v", err)
			}
			env.Seq = 7
			f, err := EncodeEnvelope(c, env)
			if err != nil {
				t.Fatalf("EncodeEnvelope: %v", err)
			}
			got, err := DecodeEnvelope(c, f)
			if err != nil {
				t.Fatalf("DecodeEnvelope: %v", err)
			}
			if got.Type != TypeRoomInfo || got.SenderID != "h" || got.SenderName != "GM" ||
				got.Seq != 7 || got.Timestamp != env.Timestamp {
				t.Fatalf("header mismatch: %+v", got)
			}
			var out RoomInfoPayload
			if err := got.DecodePayload(c, &out); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if len(out.Members) != 2 || !out.Members[0].IsHub || out.Members[1].Name != "Alex" {
				t.Fatalf("payload mismatch: %+v", out)
			}
		})
	}
}

func TestEnvelope_RejectsUnknownType(t *testing.T) {
	for _, c := range codecs(t) {
		env := Envelope{Type: "teleport", SenderID: "x", Timestamp: 1}
		f, err := c.Marshal(env)
		if err != nil {
			t.Fatalf("%s marshal: %v", c.Name(), err)
		}
		if _, err := DecodeEnvelope(c, f); !errors.Is(err, ErrUnknownType) {
			t.Errorf("%s: err = %v, want ErrUnknownType", c.Name(), err)
		}
	}
	if _, err := NewEnvelope(JSON(), "teleport", nil, "x", "X"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("NewEnvelope err = %v", err)
	}
}

func TestEnvelope_EmptyPayload(t *testing.T) {
	env, err := NewEnvelope(JSON(), TypeChatMessage, nil, "x", "X")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	f, err := EncodeEnvelope(JSON(), env)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	got, err := DecodeEnvelope(JSON(), f)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var v domain.ChatMessage
	if err := got.DecodePayload(JSON(), &v); err == nil {
		t.Error("DecodePayload on empty payload succeeded")
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "cbor"} {
		if _, err := CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Error("CodecByName(xml) succeeded")
	}
}

func TestParseMessageType(t *testing.T) {
	for _, mt := range MessageTypes {
		if got, err := ParseMessageType(string(mt)); err != nil || got != mt {
			t.Errorf("ParseMessageType(%q) = %q, %v", mt, got, err)
		}
	}
	if _, err := ParseMessageType("nope"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v", err)
	}
}
