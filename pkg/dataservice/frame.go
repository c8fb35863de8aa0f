package dataservice

import (
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"github.com/zeebo/xxh3"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	frameFieldKind     protowire.Number = 1
	frameFieldIndex    protowire.Number = 2
	frameFieldTotal    protowire.Number = 3
	frameFieldCount    protowire.Number = 4
	frameFieldPayload  protowire.Number = 5
	frameFieldChecksum protowire.Number = 6
)

// Frame is the binary envelope around one Arrow IPC payload. Total is zero for a
// single-frame dataset; otherwise the frame is chunk Index of Total.
// Checksum is the xxh3 hash of Payload as sent; Marshal fills it in.
type Frame struct {
	Kind     types.DataKind
	Index    int
	Total    int
	Count    int
	Payload  []byte
	Checksum uint64
}

// Chunked reports whether the frame is part of a chunk sequence.
func (f Frame) Chunked() bool {
	return f.Total > 0
}

// Verify checks the payload against the checksum it was sent with.
func (f Frame) Verify() error {
	if sum := xxh3.Hash(f.Payload); sum != f.Checksum {
		return errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s frame %d checksum mismatch: got %016x, want %016x", f.Kind, f.Index, sum, f.Checksum)
	}

	return nil
}

// Marshal encodes the frame as protobuf wire fields.
func (f Frame) Marshal() []byte {
	b := make([]byte, 0, len(f.Payload)+32)

	b = protowire.AppendTag(b, frameFieldKind, protowire.BytesType)
	b = protowire.AppendString(b, string(f.Kind))

	b = protowire.AppendTag(b, frameFieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Index))

	b = protowire.AppendTag(b, frameFieldTotal, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Total))

	b = protowire.AppendTag(b, frameFieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Count))

	b = protowire.AppendTag(b, frameFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)

	b = protowire.AppendTag(b, frameFieldChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, xxh3.Hash(f.Payload))

	return b
}

// UnmarshalFrame decodes a frame. Unknown fields are skipped. The returned
// payload aliases b.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame tag", protowire.ParseError(n))
		}

		b = b[n:]

		switch {
		case num == frameFieldKind && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame kind", protowire.ParseError(m))
			}

			f.Kind = types.DataKind(v)
			n = m
		case num == frameFieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame payload", protowire.ParseError(m))
			}

			f.Payload = v
			n = m
		case num == frameFieldChecksum && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame checksum", protowire.ParseError(m))
			}

			f.Checksum = v
			n = m
		case (num == frameFieldIndex || num == frameFieldTotal || num == frameFieldCount) && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame counter", protowire.ParseError(m))
			}

			switch num {
			case frameFieldIndex:
				f.Index = int(v)
			case frameFieldTotal:
				f.Total = int(v)
			default:
				f.Count = int(v)
			}

			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Frame{}, errors.Wrap(errors.ErrCodeFrameInvalid, "bad frame field", protowire.ParseError(m))
			}

			n = m
		}

		b = b[n:]
	}

	if f.Kind == "" {
		return Frame{}, errors.New(errors.ErrCodeFrameInvalid, "frame has no kind")
	}

	if f.Chunked() && f.Index >= f.Total {
		return Frame{}, errors.Newf(errors.ErrCodeFrameInvalid, "chunk index %d out of range for total %d", f.Index, f.Total)
	}

	return f, nil
}
