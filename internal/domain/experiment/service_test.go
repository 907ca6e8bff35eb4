package experiment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/testutil"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

func validCreateCommand() experiment.CreateTestCommand {
	return experiment.CreateTestCommand{
		Name: "subject line trial",
		Type: "opener",
		Variants: []experiment.VariantSpec{
			{ID: "var-a", Name: "A", TemplateRef: "tpl-a"},
			{ID: "var-b", Name: "B", TemplateRef: "tpl-b"},
		},
		TargetCount:    50,
		SuccessMetrics: []string{experiment.MetricResponseRate, experiment.MetricConversionRate},
	}
}

func newService(t *testing.T) (experiment.Service, *testutil.InMemoryTestRepo, *testutil.FakeClock) {
	t.Helper()
	repo := testutil.NewInMemoryTestRepo()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return experiment.NewService(repo, clock, logging.NewNopLogger()), repo, clock
}

func TestCreateTest(t *testing.T) {
	t.Parallel()

	svc, repo, clock := newService(t)
	ctx := context.Background()

	created, err := svc.CreateTest(ctx, validCreateCommand())
	require.NoError(t, err)
	assert.False(t, created.ID.IsZero())
	assert.Equal(t, experiment.TestStatusDraft, created.Status)
	assert.Equal(t, clock.Now(), created.CreatedAt)
	assert.Len(t, created.Variants, 2)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, stored.Name)
}

func TestCreateTestActivateImmediately(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	cmd := validCreateCommand()
	cmd.Activate = true

	created, err := svc.CreateTest(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, experiment.TestStatusActive, created.Status)
}

func TestCreateTestGeneratesVariantIDs(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	cmd := validCreateCommand()
	cmd.Variants[0].ID = ""
	cmd.Variants[1].ID = "  "

	created, err := svc.CreateTest(context.Background(), cmd)
	require.NoError(t, err)
	for _, v := range created.Variants {
		assert.False(t, v.ID.IsZero())
	}
	assert.NotEqual(t, created.Variants[0].ID, created.Variants[1].ID)
}

func TestCreateTestValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*experiment.CreateTestCommand)
	}{
		{"one variant", func(c *experiment.CreateTestCommand) { c.Variants = c.Variants[:1] }},
		{"duplicate ids", func(c *experiment.CreateTestCommand) { c.Variants[1].ID = "var-a" }},
		{"zero target", func(c *experiment.CreateTestCommand) { c.TargetCount = 0 }},
		{"negative target", func(c *experiment.CreateTestCommand) { c.TargetCount = -5 }},
		{"no metrics", func(c *experiment.CreateTestCommand) { c.SuccessMetrics = nil }},
		{"unknown metric", func(c *experiment.CreateTestCommand) { c.SuccessMetrics = []string{"clicks"} }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc, _, _ := newService(t)
			cmd := validCreateCommand()
			tc.mutate(&cmd)
			_, err := svc.CreateTest(context.Background(), cmd)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestActivateTest(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newService(t)
	ctx := context.Background()
	created, err := svc.CreateTest(ctx, validCreateCommand())
	require.NoError(t, err)

	activated, err := svc.ActivateTest(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.TestStatusActive, activated.Status)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.TestStatusActive, stored.Status)

	_, err = svc.ActivateTest(ctx, created.ID)
	assert.Error(t, err)
}

func TestGetTestNotFound(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	_, err := svc.GetTest(context.Background(), common.NewID())
	assert.True(t, errors.IsNotFound(err))
}

func TestListTestsFiltersByStatus(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	ctx := context.Background()

	draft, err := svc.CreateTest(ctx, validCreateCommand())
	require.NoError(t, err)
	cmd := validCreateCommand()
	cmd.Name = "second trial"
	cmd.Activate = true
	active, err := svc.CreateTest(ctx, cmd)
	require.NoError(t, err)

	got, total, err := svc.ListTests(ctx, experiment.TestStatusActive, common.Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)

	got, total, err = svc.ListTests(ctx, "", common.Pagination{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	ids := []common.ID{got[0].ID, got[1].ID}
	assert.Contains(t, ids, draft.ID)
}
