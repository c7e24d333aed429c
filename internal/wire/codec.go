package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes envelope bodies and their Host/Job payloads.
type Codec interface {
	// Name returns the codec identifier used in configuration.
	Name() string

	// ID is the byte written into every frame header.
	ID() byte

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names accepted by GetCodec.
const (
	CodecNameCBOR    = "cbor"
	CodecNameMsgpack = "msgpack"
)

const (
	codecIDCBOR    byte = 1
	codecIDMsgpack byte = 2
)

// GetCodec returns a codec by name. Defaults to CBOR.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return MsgpackCodec{}
	default:
		return CBORCodec{}
	}
}

// codecByID resolves the codec named in a frame header.
func codecByID(id byte) (Codec, error) {
	switch id {
	case codecIDCBOR:
		return CBORCodec{}, nil
	case codecIDMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, id)
	}
}

// cborEnc uses Core Deterministic Encoding so identical envelopes encode
// to identical bytes.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		// Frames are small; anything deeper is garbage.
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes with github.com/fxamacker/cbor.
type CBORCodec struct{}

func (CBORCodec) Name() string                       { return CodecNameCBOR }
func (CBORCodec) ID() byte                           { return codecIDCBOR }
func (CBORCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }

// MsgpackCodec encodes with github.com/vmihailenco/msgpack.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return CodecNameMsgpack }
func (MsgpackCodec) ID() byte                           { return codecIDMsgpack }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
