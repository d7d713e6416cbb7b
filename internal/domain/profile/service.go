package profile

import (
	"context"
	"fmt"

	"github.com/phigate/phigate/internal/platform/verify"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates or replaces the profile for subject.
func (s *Service) Register(ctx context.Context, subject string, in *Profile) (*Profile, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}
	p := &Profile{
		Subject:      subject,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		DateOfBirth:  in.DateOfBirth,
		GovernmentID: in.GovernmentID,
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, subject string) (*Profile, error) {
	return s.repo.GetBySubject(ctx, subject)
}

func (s *Service) Delete(ctx context.Context, subject string) error {
	return s.repo.Delete(ctx, subject)
}

// Identity returns the verifier's view of the subject's profile.
func (s *Service) Identity(ctx context.Context, subject string) (verify.Profile, error) {
	p, err := s.repo.GetBySubject(ctx, subject)
	if err != nil {
		return verify.Profile{}, err
	}
	return p.Identity(), nil
}
