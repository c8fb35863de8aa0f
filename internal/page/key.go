// Package page implements the cached, versioned datasets and the per-kind
// manager that deduplicates requests for them.
package page

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
)

// Request names the range a consumer wants.
type Request struct {
	Symbol    string          `validate:"required"`
	Timeframe types.Timeframe
	Start     time.Time       `validate:"required"`
	End       time.Time       `validate:"required,gtfield=Start"`
}

var validate = validator.New()

// Key identifies a page. The timeframe is only present for kinds that use it,
// so every caller of a range-only kind shares one page.
type Key struct {
	Kind      types.DataKind
	Symbol    string
	Timeframe optional.Option[types.Timeframe]
	Start     time.Time
	End       time.Time
}

// NewKey builds the key for req on a manager of kind.
func NewKey(kind types.DataKind, req Request) Key {
	tf := optional.None[types.Timeframe]()
	if kind.UsesTimeframe() {
		tf = optional.Some(req.Timeframe)
	}

	return Key{
		Kind:      kind,
		Symbol:    strings.ToUpper(req.Symbol),
		Timeframe: tf,
		Start:     req.Start.UTC(),
		End:       req.End.UTC(),
	}
}

func validateRequest(kind types.DataKind, req Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid page request", err)
	}

	if kind.UsesTimeframe() && !req.Timeframe.Valid() {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "%s pages need a valid timeframe, got %q", kind, req.Timeframe)
	}

	return nil
}

// Spec returns the remote page spec for the key.
func (k Key) Spec() dataservice.PageSpec {
	return dataservice.PageSpec{
		Kind:      k.Kind,
		Symbol:    k.Symbol,
		Timeframe: k.Timeframe.TakeOr(""),
		Start:     k.Start,
		End:       k.End,
	}
}

// String returns the stable cache key.
func (k Key) String() string {
	return k.Spec().CacheKey()
}
