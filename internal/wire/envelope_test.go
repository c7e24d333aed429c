package wire

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/whitf/swarm/internal/bus"
	"github.com/whitf/swarm/internal/models"
)

var codecs = []Codec{CBORCodec{}, MsgpackCodec{}}

func TestHostEnvelopeToControl(t *testing.T) {
	host := models.NewHost(uuid.New(), "192.168.1.20", 9079)
	host.MarkOnline()

	kinds := map[MessageType]bus.Kind{
		TypeOnline:    bus.KindOnline,
		TypeOffline:   bus.KindOffline,
		TypeStartJob:  bus.KindStartJob,
		TypeFinishJob: bus.KindFinishJob,
	}

	for _, c := range codecs {
		for typ, kind := range kinds {
			env, err := NewHostEnvelope(typ, host, c)
			if err != nil {
				t.Fatalf("%s/%s: NewHostEnvelope failed: %v", c.Name(), typ, err)
			}
			frame, err := EncodeFrame(env, c)
			if err != nil {
				t.Fatalf("%s/%s: EncodeFrame failed: %v", c.Name(), typ, err)
			}
			if len(frame) != FrameSize {
				t.Fatalf("frame is %d bytes, want %d", len(frame), FrameSize)
			}

			decoded, dc, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("%s/%s: DecodeFrame failed: %v", c.Name(), typ, err)
			}
			if dc.Name() != c.Name() {
				t.Errorf("codec detected as %s, want %s", dc.Name(), c.Name())
			}

			msg, err := ToControl(decoded, dc)
			if err != nil {
				t.Fatalf("%s/%s: ToControl failed: %v", c.Name(), typ, err)
			}
			if msg.Kind() != kind {
				t.Errorf("%s: got %s, want %s", typ, msg.Kind(), kind)
			}

			var got *models.Host
			switch m := msg.(type) {
			case bus.Online:
				got = m.Host
			case bus.Offline:
				got = m.Host
			case bus.StartJob:
				got = m.Host
			case bus.FinishJob:
				got = m.Host
			}
			if got == nil || got.ID != host.ID || got.Port != 9079 || !got.Online {
				t.Errorf("%s/%s: host mangled: %+v", c.Name(), typ, got)
			}
		}
	}
}

func TestJobAndTextEnvelopes(t *testing.T) {
	for _, c := range codecs {
		job := models.NewJob("render", "gpu")
		env, err := NewJobEnvelope(job, c)
		if err != nil {
			t.Fatalf("NewJobEnvelope failed: %v", err)
		}
		frame, err := EncodeFrame(env, c)
		if err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}
		decoded, dc, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		msg, err := ToControl(decoded, dc)
		if err != nil {
			t.Fatalf("ToControl failed: %v", err)
		}
		q, ok := msg.(bus.QueueJob)
		if !ok {
			t.Fatalf("Expected QueueJob, got %T", msg)
		}
		if q.Job.ID != job.ID || len(q.Job.Tags) != 2 || q.Job.Status != models.JobStatusNew {
			t.Errorf("%s: job mangled: %+v", c.Name(), q.Job)
		}
		if !q.Job.Created.Equal(job.Created) {
			t.Errorf("%s: created %v, want %v", c.Name(), q.Job.Created, job.Created)
		}

		frame, _ = EncodeFrame(NewTextEnvelope("hello swarm"), c)
		decoded, dc, _ = DecodeFrame(frame)
		msg, err = ToControl(decoded, dc)
		if err != nil {
			t.Fatalf("ToControl text failed: %v", err)
		}
		if n, ok := msg.(bus.Note); !ok || n.Text != "hello swarm" {
			t.Errorf("unexpected text message: %#v", msg)
		}
	}
}

func TestNewHostEnvelopeRejectsJobType(t *testing.T) {
	_, err := NewHostEnvelope(TypeQueueJob, models.NewHost(uuid.New(), "a", 1), CBORCodec{})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	env := NewTextEnvelope(string(bytes.Repeat([]byte("x"), FrameSize)))
	if _, err := EncodeFrame(env, CBORCodec{}); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	good, err := EncodeFrame(NewTextEnvelope("hi"), CBORCodec{})
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(f func([]byte)) []byte {
		b := append([]byte(nil), good...)
		f(b)
		return b
	}

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"short", good[:10], ErrShortFrame},
		{"magic", mutate(func(b []byte) { b[0] = 'X' }), ErrBadMagic},
		{"codec", mutate(func(b []byte) { b[4] = 9 }), ErrUnknownCodec},
		{"zero length", mutate(func(b []byte) { b[5], b[6] = 0, 0 }), ErrBodyLength},
		{"length overflow", mutate(func(b []byte) { b[5], b[6] = 0xff, 0xff }), ErrBodyLength},
		{"garbage body", mutate(func(b []byte) {
			for i := headerSize; i < headerSize+8; i++ {
				b[i] = 0xff
			}
		}), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeFrame(tt.frame); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestToControlUnknownType(t *testing.T) {
	for _, typ := range []MessageType{0, 7, 200} {
		if _, err := ToControl(&Envelope{Type: typ}, CBORCodec{}); !errors.Is(err, ErrUnknownType) {
			t.Errorf("type %d: expected ErrUnknownType, got %v", typ, err)
		}
	}
}

func TestRandomFramesNeverPanic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		frame := make([]byte, FrameSize)
		rng.Read(frame)
		if i%2 == 0 {
			copy(frame, magic[:])
			frame[4] = byte(1 + i%3)
		}
		env, c, err := DecodeFrame(frame)
		if err == nil {
			ToControl(env, c)
		}
	}
}

func FuzzDecodeFrame(f *testing.F) {
	for _, c := range codecs {
		host := models.NewHost(uuid.New(), "10.1.1.1", 9079)
		env, _ := NewHostEnvelope(TypeOnline, host, c)
		frame, _ := EncodeFrame(env, c)
		f.Add(frame)
	}
	f.Add([]byte{})
	f.Add(bytes.Repeat([]byte{0xff}, FrameSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) < FrameSize {
			data = append(data, make([]byte, FrameSize-len(data))...)
		}
		env, c, err := DecodeFrame(data[:FrameSize])
		if err != nil {
			return
		}
		ToControl(env, c)
	})
}
