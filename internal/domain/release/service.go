package release

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/phigate/phigate/internal/domain/profile"
	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/summarizer"
	"github.com/phigate/phigate/internal/platform/verify"
)

// IdentitySource resolves the registered identity of a subject.
type IdentitySource interface {
	Identity(ctx context.Context, subject string) (verify.Profile, error)
}

type Service struct {
	walker     *deid.Walker
	verifier   *verify.Verifier
	identities IdentitySource
	summarizer summarizer.Summarizer
	audit      hipaa.AuditSink
	history    hipaa.ReleaseLister
	logger     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSummarizer summarizes released documents. Without it Outcome.Summary
// stays empty.
func WithSummarizer(s summarizer.Summarizer) Option {
	return func(svc *Service) { svc.summarizer = s }
}

// WithAuditSink replaces the default log-only audit sink.
func WithAuditSink(sink hipaa.AuditSink) Option {
	return func(svc *Service) { svc.audit = sink }
}

// WithHistory serves release history from l. When unset, the audit sink is
// used if it can list releases.
func WithHistory(l hipaa.ReleaseLister) Option {
	return func(svc *Service) { svc.history = l }
}

func NewService(walker *deid.Walker, verifier *verify.Verifier, identities IdentitySource, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		walker:     walker,
		verifier:   verifier,
		identities: identities,
		logger:     logger.With().Str("component", "release").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = hipaa.NewLogAuditSink(logger)
	}
	if s.history == nil {
		s.history, _ = s.audit.(hipaa.ReleaseLister)
	}
	return s
}

type requestIDKey struct{}

// WithRequestID attaches a request ID that is copied onto audit events.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, rid)
}

func requestID(ctx context.Context) string {
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// Process de-identifies doc, verifies it against subject's profile and
// decides whether to release it. A denied release is not an error: the
// Outcome has Released false and carries the verdicts only. Any failure
// withholds the document entirely.
func (s *Service) Process(ctx context.Context, subject string, doc *deid.Document) (*Outcome, error) {
	event := &hipaa.ReleaseEvent{
		Subject:   subject,
		RequestID: requestID(ctx),
		Policy:    string(s.verifier.Policy()),
	}

	identity, err := s.identities.Identity(ctx, subject)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			s.fail(ctx, event, "no profile registered")
			return nil, ErrNoProfile
		}
		s.fail(ctx, event, "profile lookup failed")
		return nil, fmt.Errorf("release: profile: %w", err)
	}

	walked, err := s.walker.Walk(ctx, doc)
	if err != nil {
		s.fail(ctx, event, failureReason(err))
		return nil, fmt.Errorf("release: %w", err)
	}

	result := s.verifier.Verify(walked.Inventory, identity)
	out := &Outcome{
		Released:     result.Overall,
		Verification: result,
		Counts:       walked.Inventory.Counts(),
		Detections:   detectionCounts(walked.Detections),
		Units:        walked.Units,
	}
	event.NameMatch = result.NameMatch
	event.EmailMatch = result.EmailMatch
	event.PhoneMatch = result.PhoneMatch
	event.DateOfBirthMatch = result.DateOfBirthMatch
	event.GovernmentIDMatch = result.GovernmentIDMatch
	event.Counts = out.Counts
	event.Detections = out.Detections
	event.Units = out.Units

	if !result.Overall {
		event.Outcome = hipaa.OutcomeDenied
		event.Reason = "identity verification failed"
		if err := s.audit.RecordRelease(ctx, event); err != nil {
			s.logger.Error().Err(err).Str("subject", subject).Msg("recording denied release")
		}
		out.ID, out.CreatedAt = event.ID, event.CreatedAt
		return out, nil
	}

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, walked.Document.Text())
		if err != nil {
			s.fail(ctx, event, "summarizer failure")
			return nil, fmt.Errorf("release: %w", err)
		}
		out.Summary = summary
	}

	event.Outcome = hipaa.OutcomeReleased
	if err := s.audit.RecordRelease(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudit, err)
	}
	out.ID, out.CreatedAt = event.ID, event.CreatedAt
	out.Document = walked.Document
	return out, nil
}

// History returns subject's most recent release events, newest first.
func (s *Service) History(ctx context.Context, subject string, limit int) ([]*hipaa.ReleaseEvent, error) {
	if s.history == nil {
		return nil, errors.ErrUnsupported
	}
	return s.history.ListReleases(ctx, subject, limit)
}

func (s *Service) fail(ctx context.Context, event *hipaa.ReleaseEvent, reason string) {
	event.Outcome = hipaa.OutcomeFailed
	event.Reason = reason
	// Record even when the request context is already done.
	if err := s.audit.RecordRelease(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error().Err(err).Str("subject", event.Subject).Msg("recording failed release")
	}
}

// failureReason classifies a walk error without echoing its message, which
// may quote recognizer output.
func failureReason(err error) string {
	switch {
	case errors.Is(err, deid.ErrInvalidSpan):
		return "invalid recognizer span"
	case errors.Is(err, deid.ErrRecognizer):
		return "recognizer failure"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "de-identification failed"
}
