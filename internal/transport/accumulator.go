package transport

import (
	"sync"

	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

// Accumulator assembles a push transfer. Every chunk is decoded the moment it
// arrives; only decoded records are kept. Chunks ahead of the next expected
// index wait decoded in pending until the gap closes.
type Accumulator[T types.Record] struct {
	codec   dataservice.Codec[T]
	logger  *logger.Logger
	counter *RecordCounter

	mu       sync.Mutex
	total    int
	next     int
	records  []T
	pending  map[int][]T
	dropped  int
	decoded  int
	finished bool
	err      error
	done     chan struct{}
}

// NewAccumulator creates an accumulator decoding with codec. counter may be nil.
func NewAccumulator[T types.Record](codec dataservice.Codec[T], counter *RecordCounter, log *logger.Logger) *Accumulator[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Accumulator[T]{
		codec:    codec,
		logger:   log,
		counter:  counter,
		mu:       sync.Mutex{},
		total:    0,
		next:     0,
		records:  nil,
		pending:  make(map[int][]T),
		dropped:  0,
		decoded:  0,
		finished: false,
		err:      nil,
		done:     make(chan struct{}),
	}
}

// Done is closed once the transfer completed or failed.
func (a *Accumulator[T]) Done() <-chan struct{} {
	return a.done
}

// AddChunk decodes chunk index of total. A chunk that fails to decode, or
// arrives without a payload, is dropped and the result marked partial.
// Duplicates are ignored.
func (a *Accumulator[T]) AddChunk(payload []byte, index, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}

	if total <= 0 || index < 0 || index >= total {
		a.failLocked(errors.Newf(errors.ErrCodeFrameInvalid, "chunk %d of %d is out of range", index, total))

		return
	}

	if a.total == 0 {
		a.total = total
	} else if a.total != total {
		a.failLocked(errors.Newf(errors.ErrCodeFrameInvalid, "chunk total changed from %d to %d", a.total, total))

		return
	}

	if _, seen := a.pending[index]; seen || index < a.next {
		a.logger.Debug("Ignoring duplicate chunk", zap.Int("index", index))

		return
	}

	var (
		records []T
		err     error
	)

	if payload == nil {
		err = errors.Newf(errors.ErrCodeChunkDecodeFailed, "chunk %d arrived without a payload", index)
	} else {
		records, err = a.codec.Decode(payload)
	}

	if err != nil {
		a.logger.Warn("Dropping corrupt chunk",
			zap.String("kind", string(a.codec.Kind())),
			zap.Int("index", index),
			zap.Int("total", total),
			zap.Error(err),
		)

		a.dropped++
		records = nil
	} else {
		a.decoded += len(records)
		a.counter.Add(len(records))
	}

	a.pending[index] = records

	for {
		chunk, ok := a.pending[a.next]
		if !ok {
			break
		}

		a.records = append(a.records, chunk...)
		delete(a.pending, a.next)
		a.next++
	}

	if a.next == a.total {
		a.finishLocked()
	}
}

// SetData completes the transfer from a single frame holding the whole dataset.
func (a *Accumulator[T]) SetData(payload []byte, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}

	records, err := a.codec.Decode(payload)
	if err != nil {
		a.failLocked(err)

		return
	}

	if len(records) != count {
		a.logger.Warn("Frame record count mismatch",
			zap.String("kind", string(a.codec.Kind())),
			zap.Int("expected", count),
			zap.Int("actual", len(records)),
		)
	}

	a.decoded += len(records)
	a.counter.Add(len(records))
	a.records = records
	a.finishLocked()
}

// Fail ends the transfer with err unless it already finished.
func (a *Accumulator[T]) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}

	a.failLocked(err)
}

// Received returns the fraction of chunks accounted for, in [0,1].
func (a *Accumulator[T]) Received() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.total == 0 {
		return 0
	}

	return float64(a.next+len(a.pending)) / float64(a.total)
}

// Result returns the assembled records. Valid once Done is closed.
func (a *Accumulator[T]) Result() (Result[T], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return Result[T]{}, a.err
	}

	return Result[T]{
		Records:       a.records,
		Partial:       a.dropped > 0,
		DroppedChunks: a.dropped,
	}, nil
}

// Release returns the in-flight records to the counter. Chunks arriving after
// Release are ignored.
func (a *Accumulator[T]) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finished {
		a.finishLocked()
	}

	a.counter.Add(-a.decoded)
	a.decoded = 0
}

func (a *Accumulator[T]) finishLocked() {
	a.finished = true
	close(a.done)
}

func (a *Accumulator[T]) failLocked(err error) {
	a.err = err
	a.records = nil
	a.pending = nil
	a.finishLocked()
}
