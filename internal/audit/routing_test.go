package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/audit-engine/pkg/types"
)

func TestRoutingPolicy_Decide(t *testing.T) {
	healthy := &stubQueue{}
	unhealthy := &stubQueue{healthErr: errBoom}

	tests := []struct {
		name     string
		policy   RoutingPolicy
		category types.Category
		severity types.Severity
		want     Route
	}{
		{
			name:     "critical category is sync even with async enabled",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true, Queue: healthy},
			category: types.CategoryAuthentication,
			severity: types.SeverityInfo,
			want:     RouteSync,
		},
		{
			name:     "critical severity on high volume category is sync",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true, Queue: healthy},
			category: types.CategoryDataAccess,
			severity: types.SeverityCritical,
			want:     RouteSync,
		},
		{
			name:     "error severity is sync",
			policy:   RoutingPolicy{BatchingEnabled: true},
			category: types.CategorySystem,
			severity: types.SeverityError,
			want:     RouteSync,
		},
		{
			name:     "high volume with healthy queue is async",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true, Queue: healthy},
			category: types.CategoryDataAccess,
			severity: types.SeverityInfo,
			want:     RouteAsync,
		},
		{
			name:     "unhealthy queue demotes to sync",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true, Queue: unhealthy},
			category: types.CategoryDataAccess,
			severity: types.SeverityInfo,
			want:     RouteSync,
		},
		{
			name:     "missing queue demotes to sync",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true},
			category: types.CategoryAPIAccess,
			severity: types.SeverityWarning,
			want:     RouteSync,
		},
		{
			name:     "high volume without async is batched",
			policy:   RoutingPolicy{BatchingEnabled: true},
			category: types.CategoryDataAccess,
			severity: types.SeverityInfo,
			want:     RouteBatched,
		},
		{
			name:     "standard category is batched",
			policy:   RoutingPolicy{AsyncEnabled: true, BatchingEnabled: true, Queue: healthy},
			category: types.Category("custom"),
			severity: types.SeverityInfo,
			want:     RouteBatched,
		},
		{
			name:     "everything disabled is sync",
			policy:   RoutingPolicy{},
			category: types.CategorySystem,
			severity: types.SeverityInfo,
			want:     RouteSync,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.policy
			p.Table = DefaultRoutingTable()
			assert.Equal(t, tt.want, p.Decide(context.Background(), tt.category, tt.severity))
		})
	}
}

func TestRoutingTable_CustomClasses(t *testing.T) {
	table := DefaultRoutingTable()
	table.Categories[types.CategoryDataAccess] = ClassCritical
	delete(table.Categories, types.CategorySystem)

	assert.Equal(t, ClassCritical, table.ClassOf(types.CategoryDataAccess))
	assert.Equal(t, ClassStandard, table.ClassOf(types.CategorySystem))
	assert.True(t, table.IsCritical(types.CategoryDataAccess, types.SeverityInfo))
	assert.True(t, table.IsCritical(types.CategorySystem, types.SeverityAlert))
	assert.False(t, table.IsCritical(types.CategorySystem, types.SeverityWarning))
}

func TestParseCategoryClass(t *testing.T) {
	c, err := ParseCategoryClass("high_volume")
	require.NoError(t, err)
	assert.Equal(t, ClassHighVolume, c)

	_, err = ParseCategoryClass("bulk")
	assert.Error(t, err)
}

func TestRoute_String(t *testing.T) {
	assert.Equal(t, "sync", RouteSync.String())
	assert.Equal(t, "batched", RouteBatched.String())
	assert.Equal(t, "async", RouteAsync.String())
	assert.Equal(t, "unknown", Route(42).String())
}
