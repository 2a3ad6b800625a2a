package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAll_Empty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestCheckAll_AggregatesResults(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", func(ctx context.Context) Status {
		return Status{Name: "ok", Healthy: true}
	})
	r.Register("broken", func(ctx context.Context) Status {
		return Status{Name: "broken", Healthy: false, Detail: "down"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
}

func TestCheckAll_RecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("panicky", func(ctx context.Context) Status {
		panic("boom")
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Contains(t, statuses[0].Detail, "boom")
}
