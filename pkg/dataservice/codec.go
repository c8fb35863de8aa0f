package dataservice

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// Codec converts records of one kind to and from an Arrow IPC stream holding
// a single record batch.
type Codec[T types.Record] interface {
	Kind() types.DataKind
	Encode(records []T) ([]byte, error)
	Decode(payload []byte) ([]T, error)
}

type arrowCodec[T types.Record] struct {
	kind      types.DataKind
	schema    *arrow.Schema
	mem       memory.Allocator
	appendRow func(b *array.RecordBuilder, r T)
	readRows  func(rec arrow.Record, out []T) ([]T, error)

	prefixOnce sync.Once
	prefix     []byte
	prefixErr  error
}

func (c *arrowCodec[T]) Kind() types.DataKind {
	return c.kind
}

func (c *arrowCodec[T]) Encode(records []T) ([]byte, error) {
	b := array.NewRecordBuilder(c.mem, c.schema)
	defer b.Release()

	b.Reserve(len(records))

	for _, r := range records {
		c.appendRow(b, r)
	}

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer

	w := ipc.NewWriter(&buf, ipc.WithSchema(c.schema), ipc.WithAllocator(c.mem))
	if err := w.Write(rec); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeEncodeFailed, err, "failed to write %s batch", c.kind)
	}

	if err := w.Close(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeEncodeFailed, err, "failed to close %s stream", c.kind)
	}

	return buf.Bytes(), nil
}

// Decode reads the records of payload. The stream is checked before Arrow
// sees it, so a corrupt payload fails with ErrCodeChunkDecodeFailed instead of
// making Arrow size its buffers from garbage lengths.
func (c *arrowCodec[T]) Decode(payload []byte) (out []T, err error) {
	if err := c.checkStream(payload); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.Newf(errors.ErrCodeChunkDecodeFailed, "failed to decode %s stream: %v", c.kind, r)
		}
	}()

	r, err := ipc.NewReader(bytes.NewReader(payload), ipc.WithAllocator(c.mem), ipc.WithSchema(c.schema))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeChunkDecodeFailed, err, "failed to open %s stream", c.kind)
	}
	defer r.Release()

	for r.Next() {
		rec := r.Record()

		// Every schema carries an int64 column, so a row takes at least 8 bytes.
		if rec.NumRows() < 0 || rec.NumRows() > int64(len(payload)/8) {
			return nil, errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s batch claims %d rows in %d bytes", c.kind, rec.NumRows(), len(payload))
		}

		if out == nil {
			out = make([]T, 0, rec.NumRows())
		}

		out, err = c.readRows(rec, out)
		if err != nil {
			return nil, err
		}
	}

	if err := r.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeChunkDecodeFailed, err, "failed to read %s stream", c.kind)
	}

	if out == nil {
		out = []T{}
	}

	return out, nil
}

const (
	ipcContinuation uint32 = 0xFFFFFFFF

	// Message and RecordBatch vtable slots from the Arrow IPC flatbuffer schema.
	messageHeaderType      flatbuffers.VOffsetT = 6
	messageHeader          flatbuffers.VOffsetT = 8
	messageBodyLength      flatbuffers.VOffsetT = 10
	recordBatchCompression flatbuffers.VOffsetT = 10

	headerRecordBatch byte = 3
)

// schemaPrefix returns the encoded schema message this codec writes at the
// start of every stream.
func (c *arrowCodec[T]) schemaPrefix() ([]byte, error) {
	c.prefixOnce.Do(func() {
		empty, err := c.Encode(nil)
		if err != nil {
			c.prefixErr = err

			return
		}

		meta, bodyLen, _, _, err := nextMessage(empty)
		if err != nil || bodyLen != 0 {
			c.prefixErr = errors.Newf(errors.ErrCodeEncodeFailed, "unexpected %s schema message", c.kind)

			return
		}

		c.prefix = empty[:8+len(meta)]
	})

	return c.prefix, c.prefixErr
}

// checkStream walks the IPC messages of payload without allocating. The schema
// message must equal the codec's own byte for byte. Every later message must be
// an uncompressed record batch whose metadata and body lie inside payload.
func (c *arrowCodec[T]) checkStream(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeChunkDecodeFailed, "malformed %s stream: %v", c.kind, r)
		}
	}()

	prefix, err := c.schemaPrefix()
	if err != nil {
		return err
	}

	if !bytes.HasPrefix(payload, prefix) {
		return errors.Newf(errors.ErrCodeChunkDecodeFailed, "unexpected schema for %s", c.kind)
	}

	rest := payload[len(prefix):]

	for {
		meta, _, next, eos, err := nextMessage(rest)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeChunkDecodeFailed, err, "malformed %s stream", c.kind)
		}

		if eos {
			return nil
		}

		tab := flatbuffers.Table{Bytes: meta, Pos: flatbuffers.GetUOffsetT(meta)}
		if tab.GetByteSlot(messageHeaderType, 0) != headerRecordBatch {
			return errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s stream holds a message that is not a record batch", c.kind)
		}

		o := tab.Offset(messageHeader)
		if o == 0 {
			return errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s record batch has no header", c.kind)
		}

		var batch flatbuffers.Table
		tab.Union(&batch, flatbuffers.UOffsetT(o))

		if batch.Offset(recordBatchCompression) != 0 {
			return errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s record batch is compressed", c.kind)
		}

		rest = next
	}
}

// nextMessage splits the first IPC message off b. It returns the flatbuffer
// metadata, the body length and what follows the body.
func nextMessage(b []byte) (meta []byte, bodyLen int64, rest []byte, eos bool, err error) {
	if len(b) == 0 {
		return nil, 0, nil, true, nil
	}

	if len(b) < 8 {
		return nil, 0, nil, false, fmt.Errorf("truncated message prefix of %d bytes", len(b))
	}

	if flatbuffers.GetUint32(b) != ipcContinuation {
		return nil, 0, nil, false, fmt.Errorf("missing continuation marker")
	}

	msgLen := uint64(flatbuffers.GetUint32(b[4:]))
	if msgLen == 0 {
		return nil, 0, nil, true, nil
	}

	b = b[8:]
	if msgLen < 4 || msgLen > uint64(len(b)) {
		return nil, 0, nil, false, fmt.Errorf("message length %d exceeds %d remaining bytes", msgLen, len(b))
	}

	meta, b = b[:msgLen], b[msgLen:]

	tab := flatbuffers.Table{Bytes: meta, Pos: flatbuffers.GetUOffsetT(meta)}
	bodyLen = tab.GetInt64Slot(messageBodyLength, 0)

	if bodyLen < 0 || bodyLen > int64(len(b)) {
		return nil, 0, nil, false, fmt.Errorf("body length %d exceeds %d remaining bytes", bodyLen, len(b))
	}

	return meta, bodyLen, b[bodyLen:], false, nil
}

// CandleCodec encodes candles.
func CandleCodec() Codec[types.Candle] {
	return &arrowCodec[types.Candle]{
		kind: types.DataKindCandles,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "symbol", Type: arrow.BinaryTypes.String},
			{Name: "time", Type: arrow.PrimitiveTypes.Int64},
			{Name: "open", Type: arrow.PrimitiveTypes.Float64},
			{Name: "high", Type: arrow.PrimitiveTypes.Float64},
			{Name: "low", Type: arrow.PrimitiveTypes.Float64},
			{Name: "close", Type: arrow.PrimitiveTypes.Float64},
			{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
		}, nil),
		mem: memory.DefaultAllocator,
		appendRow: func(b *array.RecordBuilder, c types.Candle) {
			b.Field(0).(*array.StringBuilder).Append(c.Symbol)
			b.Field(1).(*array.Int64Builder).Append(c.Time.UnixMilli())
			b.Field(2).(*array.Float64Builder).Append(c.Open)
			b.Field(3).(*array.Float64Builder).Append(c.High)
			b.Field(4).(*array.Float64Builder).Append(c.Low)
			b.Field(5).(*array.Float64Builder).Append(c.Close)
			b.Field(6).(*array.Float64Builder).Append(c.Volume)
		},
		readRows: func(rec arrow.Record, out []types.Candle) ([]types.Candle, error) {
			symbols, ok := rec.Column(0).(*array.String)
			if !ok {
				return nil, columnTypeError(types.DataKindCandles, "symbol")
			}

			times, err := int64Column(rec, 1)
			if err != nil {
				return nil, err
			}

			cols, err := float64Columns(rec, 2, 6)
			if err != nil {
				return nil, err
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				out = append(out, types.Candle{
					Symbol: symbols.Value(i),
					Time:   millis(times.Value(i)),
					Open:   cols[0].Value(i),
					High:   cols[1].Value(i),
					Low:    cols[2].Value(i),
					Close:  cols[3].Value(i),
					Volume: cols[4].Value(i),
				})
			}

			return out, nil
		},
	}
}

// TradeCodec encodes tick trades.
func TradeCodec() Codec[types.TickTrade] {
	return &arrowCodec[types.TickTrade]{
		kind: types.DataKindTrades,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
			{Name: "time", Type: arrow.PrimitiveTypes.Int64},
			{Name: "price", Type: arrow.PrimitiveTypes.Float64},
			{Name: "quantity", Type: arrow.PrimitiveTypes.Float64},
			{Name: "is_buyer_maker", Type: arrow.FixedWidthTypes.Boolean},
		}, nil),
		mem: memory.DefaultAllocator,
		appendRow: func(b *array.RecordBuilder, t types.TickTrade) {
			b.Field(0).(*array.Int64Builder).Append(t.ID)
			b.Field(1).(*array.Int64Builder).Append(t.Time.UnixMilli())
			b.Field(2).(*array.Float64Builder).Append(t.Price)
			b.Field(3).(*array.Float64Builder).Append(t.Quantity)
			b.Field(4).(*array.BooleanBuilder).Append(t.IsBuyerMaker)
		},
		readRows: func(rec arrow.Record, out []types.TickTrade) ([]types.TickTrade, error) {
			ids, err := int64Column(rec, 0)
			if err != nil {
				return nil, err
			}

			times, err := int64Column(rec, 1)
			if err != nil {
				return nil, err
			}

			cols, err := float64Columns(rec, 2, 3)
			if err != nil {
				return nil, err
			}

			makers, ok := rec.Column(4).(*array.Boolean)
			if !ok {
				return nil, columnTypeError(types.DataKindTrades, "is_buyer_maker")
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				out = append(out, types.TickTrade{
					ID:           ids.Value(i),
					Time:         millis(times.Value(i)),
					Price:        cols[0].Value(i),
					Quantity:     cols[1].Value(i),
					IsBuyerMaker: makers.Value(i),
				})
			}

			return out, nil
		},
	}
}

// FundingCodec encodes funding rates.
func FundingCodec() Codec[types.FundingRate] {
	return &arrowCodec[types.FundingRate]{
		kind: types.DataKindFunding,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "time", Type: arrow.PrimitiveTypes.Int64},
			{Name: "rate", Type: arrow.PrimitiveTypes.Float64},
		}, nil),
		mem: memory.DefaultAllocator,
		appendRow: func(b *array.RecordBuilder, f types.FundingRate) {
			b.Field(0).(*array.Int64Builder).Append(f.Time.UnixMilli())
			b.Field(1).(*array.Float64Builder).Append(f.Rate)
		},
		readRows: func(rec arrow.Record, out []types.FundingRate) ([]types.FundingRate, error) {
			times, err := int64Column(rec, 0)
			if err != nil {
				return nil, err
			}

			cols, err := float64Columns(rec, 1, 1)
			if err != nil {
				return nil, err
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				out = append(out, types.FundingRate{
					Time: millis(times.Value(i)),
					Rate: cols[0].Value(i),
				})
			}

			return out, nil
		},
	}
}

// OpenInterestCodec encodes open interest samples.
func OpenInterestCodec() Codec[types.OpenInterest] {
	return &arrowCodec[types.OpenInterest]{
		kind: types.DataKindOpenInterest,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "time", Type: arrow.PrimitiveTypes.Int64},
			{Name: "open_interest", Type: arrow.PrimitiveTypes.Float64},
			{Name: "open_interest_value", Type: arrow.PrimitiveTypes.Float64},
		}, nil),
		mem: memory.DefaultAllocator,
		appendRow: func(b *array.RecordBuilder, o types.OpenInterest) {
			b.Field(0).(*array.Int64Builder).Append(o.Time.UnixMilli())
			b.Field(1).(*array.Float64Builder).Append(o.OpenInterest)
			b.Field(2).(*array.Float64Builder).Append(o.OpenInterestValue)
		},
		readRows: func(rec arrow.Record, out []types.OpenInterest) ([]types.OpenInterest, error) {
			times, err := int64Column(rec, 0)
			if err != nil {
				return nil, err
			}

			cols, err := float64Columns(rec, 1, 2)
			if err != nil {
				return nil, err
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				out = append(out, types.OpenInterest{
					Time:              millis(times.Value(i)),
					OpenInterest:      cols[0].Value(i),
					OpenInterestValue: cols[1].Value(i),
				})
			}

			return out, nil
		},
	}
}

// PremiumCodec encodes premium index klines.
func PremiumCodec() Codec[types.PremiumIndex] {
	return &arrowCodec[types.PremiumIndex]{
		kind: types.DataKindPremium,
		schema: arrow.NewSchema([]arrow.Field{
			{Name: "time", Type: arrow.PrimitiveTypes.Int64},
			{Name: "open", Type: arrow.PrimitiveTypes.Float64},
			{Name: "high", Type: arrow.PrimitiveTypes.Float64},
			{Name: "low", Type: arrow.PrimitiveTypes.Float64},
			{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		}, nil),
		mem: memory.DefaultAllocator,
		appendRow: func(b *array.RecordBuilder, p types.PremiumIndex) {
			b.Field(0).(*array.Int64Builder).Append(p.Time.UnixMilli())
			b.Field(1).(*array.Float64Builder).Append(p.Open)
			b.Field(2).(*array.Float64Builder).Append(p.High)
			b.Field(3).(*array.Float64Builder).Append(p.Low)
			b.Field(4).(*array.Float64Builder).Append(p.Close)
		},
		readRows: func(rec arrow.Record, out []types.PremiumIndex) ([]types.PremiumIndex, error) {
			times, err := int64Column(rec, 0)
			if err != nil {
				return nil, err
			}

			cols, err := float64Columns(rec, 1, 4)
			if err != nil {
				return nil, err
			}

			for i := 0; i < int(rec.NumRows()); i++ {
				out = append(out, types.PremiumIndex{
					Time:  millis(times.Value(i)),
					Open:  cols[0].Value(i),
					High:  cols[1].Value(i),
					Low:   cols[2].Value(i),
					Close: cols[3].Value(i),
				})
			}

			return out, nil
		},
	}
}

func int64Column(rec arrow.Record, i int) (*array.Int64, error) {
	col, ok := rec.Column(i).(*array.Int64)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeChunkDecodeFailed, "column %q is not int64", rec.ColumnName(i))
	}

	return col, nil
}

// float64Columns returns columns from..to inclusive.
func float64Columns(rec arrow.Record, from, to int) ([]*array.Float64, error) {
	cols := make([]*array.Float64, 0, to-from+1)

	for i := from; i <= to; i++ {
		col, ok := rec.Column(i).(*array.Float64)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeChunkDecodeFailed, "column %q is not float64", rec.ColumnName(i))
		}

		cols = append(cols, col)
	}

	return cols, nil
}

func columnTypeError(kind types.DataKind, column string) error {
	return errors.Newf(errors.ErrCodeChunkDecodeFailed, "%s column %q has unexpected type", kind, column)
}

func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
