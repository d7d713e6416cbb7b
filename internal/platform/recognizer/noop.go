package recognizer

import (
	"context"

	"github.com/phigate/phigate/internal/platform/deid"
)

// Noop finds nothing. It is selected with RECOGNIZER=none in development;
// only pattern rules apply.
type Noop struct{}

func (Noop) Recognize(context.Context, string) ([]deid.Span, error) { return nil, nil }
