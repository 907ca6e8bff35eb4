package experiment

import (
	"context"
	"strings"

	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// VariantSpec describes one variant in a test creation request.
type VariantSpec struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	TemplateRef string  `json:"template_ref"`
	Weight      float64 `json:"weight,omitempty"`
}

// CreateTestCommand carries everything needed to register a new test.
type CreateTestCommand struct {
	Name              string        `json:"name"`
	Type              string        `json:"type"`
	Variants          []VariantSpec `json:"variants"`
	TargetCount       int           `json:"target_count"`
	SuccessMetrics    []string      `json:"success_metrics"`
	AutoDeclareWinner bool          `json:"auto_declare_winner"`
	MaxDurationDays   int           `json:"max_duration_days"`
	// Activate starts the test immediately instead of leaving it in draft.
	Activate bool `json:"activate"`
}

// Service exposes test lifecycle operations.
type Service interface {
	CreateTest(ctx context.Context, cmd CreateTestCommand) (*Test, error)
	GetTest(ctx context.Context, id common.ID) (*Test, error)
	ActivateTest(ctx context.Context, id common.ID) (*Test, error)
	ListTests(ctx context.Context, status TestStatus, page common.Pagination) ([]*Test, int64, error)
}

type service struct {
	tests  TestRepository
	clock  common.Clock
	logger logging.Logger
}

// NewService builds the test lifecycle service.
func NewService(tests TestRepository, clock common.Clock, logger logging.Logger) Service {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &service{
		tests:  tests,
		clock:  clock,
		logger: logger.Named("experiment"),
	}
}

func (s *service) CreateTest(ctx context.Context, cmd CreateTestCommand) (*Test, error) {
	variants := make([]Variant, 0, len(cmd.Variants))
	for _, vs := range cmd.Variants {
		id := common.ID(strings.TrimSpace(vs.ID))
		if id.IsZero() {
			id = common.NewID()
		}
		variants = append(variants, Variant{
			ID:          id,
			Name:        vs.Name,
			TemplateRef: vs.TemplateRef,
			Weight:      vs.Weight,
		})
	}
	test := &Test{
		ID:                common.NewID(),
		Name:              strings.TrimSpace(cmd.Name),
		Type:              strings.TrimSpace(cmd.Type),
		Variants:          variants,
		TargetCount:       cmd.TargetCount,
		SuccessMetrics:    cmd.SuccessMetrics,
		AutoDeclareWinner: cmd.AutoDeclareWinner,
		MaxDurationDays:   cmd.MaxDurationDays,
		Status:            TestStatusDraft,
		CreatedAt:         s.clock.Now(),
	}
	if err := test.Validate(); err != nil {
		return nil, err
	}
	if cmd.Activate {
		if err := test.Activate(); err != nil {
			return nil, err
		}
	}
	if err := s.tests.Create(ctx, test); err != nil {
		return nil, err
	}
	s.logger.Info("test created",
		logging.String("test_id", test.ID.String()),
		logging.String("name", test.Name),
		logging.Int("variants", len(test.Variants)),
		logging.String("status", string(test.Status)))
	return test, nil
}

func (s *service) GetTest(ctx context.Context, id common.ID) (*Test, error) {
	if id.IsZero() {
		return nil, errors.InvalidParam("test id is required")
	}
	return s.tests.GetByID(ctx, id)
}

func (s *service) ActivateTest(ctx context.Context, id common.ID) (*Test, error) {
	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := test.Activate(); err != nil {
		return nil, err
	}
	if err := s.tests.Update(ctx, test); err != nil {
		return nil, err
	}
	s.logger.Info("test activated", logging.String("test_id", id.String()))
	return test, nil
}

func (s *service) ListTests(ctx context.Context, status TestStatus, page common.Pagination) ([]*Test, int64, error) {
	return s.tests.List(ctx, status, page)
}
