package core

import (
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
)

// Codec serializes envelopes and payloads. Both ends of a session must use
// the same codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

// JSON returns the default codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949 core profile).
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string                         { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// CodecByName maps a config value to a codec; empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
