// Package wire implements the inter-drone protocol: a fixed-size binary
// frame carrying one typed envelope.
//
// Frame layout (FrameSize bytes):
//
//	offset 0  magic "SWRM"
//	offset 4  codec id (1 = cbor, 2 = msgpack)
//	offset 5  body length, big-endian uint16
//	offset 7  codec-encoded Envelope, zero padded to FrameSize
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/models"
)

// FrameSize is the size of every frame on the wire.
const FrameSize = 512

const headerSize = 7

// MaxBody is the largest encoded envelope a frame can carry.
const MaxBody = FrameSize - headerSize

var magic = [4]byte{'S', 'W', 'R', 'M'}

// Frame errors. Any of them means the peer sent garbage and the connection
// should be dropped.
var (
	ErrBadMagic      = errors.New("bad frame magic")
	ErrShortFrame    = errors.New("short frame")
	ErrBodyLength    = errors.New("frame body length out of range")
	ErrFrameTooLarge = errors.New("envelope too large for frame")
	ErrUnknownCodec  = errors.New("unknown frame codec")
	ErrUnknownType   = errors.New("unknown message type")
	ErrMalformed     = errors.New("malformed envelope")
)

// MessageType identifies the payload an envelope carries.
type MessageType uint8

const (
	TypeFinishJob MessageType = iota + 1
	TypeMessage
	TypeOnline
	TypeOffline
	TypeStartJob
	TypeQueueJob
)

func (t MessageType) String() string {
	switch t {
	case TypeFinishJob:
		return "FinishJob"
	case TypeMessage:
		return "Message"
	case TypeOnline:
		return "Online"
	case TypeOffline:
		return "Offline"
	case TypeStartJob:
		return "StartJob"
	case TypeQueueJob:
		return "QueueJob"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Envelope is the unit exchanged between drones. Payload holds a
// codec-encoded Host (Online, Offline, StartJob, FinishJob), a
// codec-encoded Job (QueueJob) or raw UTF-8 text (Message).
type Envelope struct {
	Type    MessageType `cbor:"1,keyasint" msgpack:"t"`
	Payload []byte      `cbor:"2,keyasint" msgpack:"p"`
}

// NewHostEnvelope wraps host for one of the host-carrying message types.
func NewHostEnvelope(typ MessageType, host *models.Host, c Codec) (*Envelope, error) {
	switch typ {
	case TypeOnline, TypeOffline, TypeStartJob, TypeFinishJob:
	default:
		return nil, fmt.Errorf("%w: %s does not carry a host", ErrUnknownType, typ)
	}
	payload, err := c.Marshal(host)
	if err != nil {
		return nil, fmt.Errorf("encode host: %w", err)
	}
	return &Envelope{Type: typ, Payload: payload}, nil
}

// NewJobEnvelope wraps job in a QueueJob envelope.
func NewJobEnvelope(job *models.Job, c Codec) (*Envelope, error) {
	payload, err := c.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return &Envelope{Type: TypeQueueJob, Payload: payload}, nil
}

// NewTextEnvelope wraps text in a Message envelope.
func NewTextEnvelope(text string) *Envelope {
	return &Envelope{Type: TypeMessage, Payload: []byte(text)}
}

// EncodeFrame encodes env into a FrameSize byte frame.
func EncodeFrame(env *Envelope, c Codec) ([]byte, error) {
	body, err := c.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > MaxBody {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(body), MaxBody)
	}

	frame := make([]byte, FrameSize)
	copy(frame, magic[:])
	frame[4] = c.ID()
	binary.BigEndian.PutUint16(frame[5:7], uint16(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// DecodeFrame parses a frame produced by EncodeFrame. It reports the codec
// the sender used so payloads can be decoded with the same one. It returns
// an error, never panics, on arbitrary input.
func DecodeFrame(frame []byte) (*Envelope, Codec, error) {
	if len(frame) < FrameSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if [4]byte(frame[:4]) != magic {
		return nil, nil, ErrBadMagic
	}

	c, err := codecByID(frame[4])
	if err != nil {
		return nil, nil, err
	}

	n := int(binary.BigEndian.Uint16(frame[5:7]))
	if n == 0 || n > MaxBody {
		return nil, nil, fmt.Errorf("%w: %d", ErrBodyLength, n)
	}

	var env Envelope
	if err := safeUnmarshal(c, frame[headerSize:headerSize+n], &env); err != nil {
		return nil, nil, err
	}
	return &env, c, nil
}

// ToControl translates a decoded envelope into a control bus message.
func ToControl(env *Envelope, c Codec) (bus.Message, error) {
	switch env.Type {
	case TypeMessage:
		return bus.Note{Text: string(env.Payload)}, nil

	case TypeQueueJob:
		var job models.Job
		if err := safeUnmarshal(c, env.Payload, &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		return bus.QueueJob{Job: &job}, nil

	case TypeOnline, TypeOffline, TypeStartJob, TypeFinishJob:
		var host models.Host
		if err := safeUnmarshal(c, env.Payload, &host); err != nil {
			return nil, fmt.Errorf("decode host: %w", err)
		}
		switch env.Type {
		case TypeOnline:
			return bus.Online{Host: &host}, nil
		case TypeOffline:
			return bus.Offline{Host: &host}, nil
		case TypeStartJob:
			return bus.StartJob{Host: &host}, nil
		default:
			return bus.FinishJob{Host: &host}, nil
		}

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

// safeUnmarshal turns a decoder panic on hostile input into ErrMalformed.
func safeUnmarshal(c Codec, data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s decoder panic: %v", ErrMalformed, c.Name(), r)
		}
	}()
	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
