package collector

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/cloud-cost-aggregator/pkg/model"
)

type fakeCollector struct {
	name string
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Collect(context.Context, civil.Date, civil.Date) ([]model.CostRecord, error) {
	return []model.CostRecord{}, nil
}

func (f *fakeCollector) TestConnection(context.Context) error { return nil }

func TestRegistry_LazyConstruction(t *testing.T) {
	r := NewRegistry()

	built := 0
	r.Register("aws", func() (Collector, error) {
		built++
		return &fakeCollector{name: "aws"}, nil
	})
	assert.Equal(t, 0, built, "construction must be lazy")

	c, err := r.Get("aws")
	require.NoError(t, err)
	assert.Equal(t, "aws", c.Name())
	assert.Equal(t, 1, built)

	// Second Get reuses the constructed instance.
	c2, err := r.Get("aws")
	require.NoError(t, err)
	assert.Same(t, c, c2)
	assert.Equal(t, 1, built)
}

func TestRegistry_ConstructionFailureMemoized(t *testing.T) {
	r := NewRegistry()

	attempts := 0
	r.Register("gcp", func() (Collector, error) {
		attempts++
		return nil, errors.New("missing credentials")
	})

	_, err := r.Get("gcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing credentials")

	// A known-broken collector is not reconstructed.
	_, err2 := r.Get("gcp")
	require.Error(t, err2)
	assert.Equal(t, err.Error(), err2.Error())
	assert.Equal(t, 1, attempts)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("oracle")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRegistry_KnownAndNames(t *testing.T) {
	r := NewRegistry()
	factory := func() (Collector, error) { return &fakeCollector{}, nil }

	r.Register("aws", factory)
	r.Register("gcp", factory)
	r.Register("azure", factory)

	assert.True(t, r.Known("aws"))
	assert.False(t, r.Known("oracle"))
	assert.Equal(t, []string{"aws", "gcp", "azure"}, r.Names())

	// Re-registering keeps the original order.
	r.Register("gcp", factory)
	assert.Equal(t, []string{"aws", "gcp", "azure"}, r.Names())
}
