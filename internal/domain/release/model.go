// Package release runs the upload flow: de-identify an extracted document,
// verify it against the caller's registered profile, and release the
// redacted document (plus an optional summary) only when verification
// passes. Every decision is audited.
package release

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/verify"
)

var (
	// ErrNoProfile is returned when the caller has not registered a profile.
	ErrNoProfile = errors.New("no profile registered")
	// ErrAudit is returned when a release could not be recorded. The document
	// is withheld in that case.
	ErrAudit = errors.New("release audit failed")
)

// Outcome is the result of processing one document. Document and Summary are
// set only when Released is true.
type Outcome struct {
	ID           uuid.UUID      `json:"id"`
	Released     bool           `json:"released"`
	Verification verify.Result  `json:"verification"`
	Counts       map[string]int `json:"counts,omitempty"`
	Detections   map[string]int `json:"detections,omitempty"`
	Units        int            `json:"units"`
	Document     *deid.Document `json:"document,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// denial is the body returned for a denied release: verdicts only.
type denial struct {
	ID           uuid.UUID     `json:"id"`
	Released     bool          `json:"released"`
	Verification verify.Result `json:"verification"`
}

func (o *Outcome) denial() denial {
	return denial{ID: o.ID, Verification: o.Verification}
}

func detectionCounts(in map[deid.Category]int) map[string]int {
	out := make(map[string]int, len(in))
	for c, n := range in {
		out[string(c)] = n
	}
	return out
}
