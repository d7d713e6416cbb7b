package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// MinAuditRetention is the HIPAA minimum retention for audit trails: six
// years.
const MinAuditRetention = 6 * 365 * 24 * time.Hour

// ReleasePurger deletes release events recorded before a cutoff.
type ReleasePurger interface {
	PurgeReleases(ctx context.Context, before time.Time) (int64, error)
}

// RetentionService removes release events once they are older than the
// configured retention.
type RetentionService struct {
	purger    ReleasePurger
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRetentionService returns a service keeping events for retention, which
// may not be shorter than MinAuditRetention.
func NewRetentionService(purger ReleasePurger, retention time.Duration, logger zerolog.Logger) (*RetentionService, error) {
	if retention < MinAuditRetention {
		return nil, fmt.Errorf("audit retention %s is below the six-year minimum", retention)
	}
	return &RetentionService{
		purger:    purger,
		retention: retention,
		logger:    logger.With().Str("component", "retention-service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Cutoff returns the instant before which events are purged.
func (s *RetentionService) Cutoff() time.Time {
	return s.now().Add(-s.retention)
}

// Purge deletes every event older than the retention window.
func (s *RetentionService) Purge(ctx context.Context) (int64, error) {
	cutoff := s.Cutoff()
	n, err := s.purger.PurgeReleases(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge release audit: %w", err)
	}
	s.logger.Info().Int64("purged", n).Time("cutoff", cutoff).Msg("release audit retention applied")
	return n, nil
}

// Run purges once immediately and then every interval until ctx is done.
func (s *RetentionService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Purge(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("release audit retention failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
