// Package dataservice defines the contract of the remote data service that
// materializes pages, together with its wire codec and HTTP/WebSocket clients.
//
// Two access modes are offered:
//   - request/poll: RequestPage, GetPageStatus, then a single Fetch of the finished frame
//   - streaming: Subscribe delivers state changes and either one data frame or a
//     sequence of chunk frames through a StreamCallback
package dataservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rxtech-lab/argo-datapage/internal/types"
)

// ProtocolHeader carries the wire protocol version on every response and on the
// WebSocket handshake.
const ProtocolHeader = "X-Datapage-Protocol"

// PageSpec identifies the dataset a page holds on the remote side.
type PageSpec struct {
	Kind      types.DataKind  `json:"kind" validate:"required"`
	Symbol    string          `json:"symbol" validate:"required"`
	Timeframe types.Timeframe `json:"timeframe,omitempty"`
	Start     time.Time       `json:"start" validate:"required"`
	End       time.Time       `json:"end" validate:"required,gtfield=Start"`
}

// CacheKey returns a stable identity for the spec. The timeframe only takes part
// for kinds that use it.
func (s PageSpec) CacheKey() string {
	tf := "-"
	if s.Kind.UsesTimeframe() && s.Timeframe != "" {
		tf = string(s.Timeframe)
	}

	return strings.Join([]string{
		string(s.Kind),
		strings.ToUpper(s.Symbol),
		tf,
		fmt.Sprint(s.Start.UnixMilli()),
		fmt.Sprint(s.End.UnixMilli()),
	}, "|")
}

// Status is the polled state of a server-side page.
type Status struct {
	State       types.PageState `json:"state"`
	Progress    float64         `json:"progress"`
	Error       string          `json:"error,omitempty"`
	RecordCount int             `json:"record_count"`
}

// PageService is the request/poll access mode.
type PageService interface {
	// RequestPage creates or reuses a server-side page and returns its key.
	RequestPage(ctx context.Context, spec PageSpec) (string, error)
	// GetPageStatus returns the current state and progress of a page.
	GetPageStatus(ctx context.Context, pageKey string) (Status, error)
	// Fetch returns the finished page as one encoded frame.
	Fetch(ctx context.Context, pageKey string) ([]byte, error)
}

// StreamCallback receives the events of one subscription. Calls are made from
// the subscription's reader goroutine, one at a time.
type StreamCallback interface {
	OnStateChanged(state types.PageState, progress float64)
	// OnData delivers a whole dataset in one payload.
	OnData(payload []byte, count int)
	// OnChunk delivers chunk index of total. Chunks may arrive in any order.
	// payload is nil for a chunk that failed its checksum.
	OnChunk(payload []byte, index int, total int)
	OnError(message string)
}

// Subscription is a cancellable handle to a running stream.
type Subscription interface {
	Cancel()
	// Done is closed after the last callback has returned.
	Done() <-chan struct{}
}

// StreamService is the push access mode.
type StreamService interface {
	Subscribe(ctx context.Context, spec PageSpec, callback StreamCallback) (Subscription, error)
}
