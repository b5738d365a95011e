package render

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(out string, calls *int) ComputeFunc {
	return func(context.Context) (string, error) {
		*calls++
		return out, nil
	}
}

func TestGetOrComputeSameSource(t *testing.T) {
	var c Cache
	calls := 0
	ctx := context.Background()

	res, err := c.GetOrCompute(ctx, "{{Title}}", counting("a", &calls))
	require.NoError(t, err)
	assert.Equal(t, Result{Output: "a", Changed: true, Computed: true}, res)

	res, err = c.GetOrCompute(ctx, "{{Title}}", counting("b", &calls))
	require.NoError(t, err)
	assert.Equal(t, Result{Output: "a"}, res)
	assert.Equal(t, 1, calls)
	assert.EqualValues(t, 1, c.Computes())
}

func TestGetOrComputeOutputUnchanged(t *testing.T) {
	var c Cache
	calls := 0
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "one", counting("same", &calls))
	require.NoError(t, err)

	res, err := c.GetOrCompute(ctx, "two", counting("same", &calls))
	require.NoError(t, err)
	assert.True(t, res.Computed)
	assert.False(t, res.Changed)
	assert.Equal(t, 2, calls)

	res, err = c.GetOrCompute(ctx, "three", counting("other", &calls))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "other", res.Output)
}

func TestGetOrComputeErrorNotStored(t *testing.T) {
	var c Cache
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.GetOrCompute(ctx, "src", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Last()
	assert.False(t, ok)

	calls := 0
	res, err := c.GetOrCompute(ctx, "src", counting("ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 1, calls)
}

func TestForget(t *testing.T) {
	var c Cache
	calls := 0
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "src", counting("x", &calls))
	require.NoError(t, err)
	c.Forget()

	res, err := c.GetOrCompute(ctx, "src", counting("x", &calls))
	require.NoError(t, err)
	assert.True(t, res.Computed)
	assert.False(t, res.Changed)
	assert.Equal(t, 2, calls)

	_, err = c.GetOrCompute(ctx, "src", counting("x", &calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetOrComputeConcurrent(t *testing.T) {
	var c Cache
	var mu sync.Mutex
	calls := 0
	compute := func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "out", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.GetOrCompute(context.Background(), "src", compute)
			assert.NoError(t, err)
			assert.Equal(t, "out", res.Output)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}
