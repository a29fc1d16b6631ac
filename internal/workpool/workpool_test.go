package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_ExecutesAllJobs(t *testing.T) {
	p := New(0)
	var count atomic.Int32

	err := p.Run(context.Background(), 50, func(_ context.Context, _ int) error {
		count.Add(1)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(50), count.Load())
}

func TestRun_ReturnsFirstErrorButRunsAllJobs(t *testing.T) {
	p := New(0)
	var ran atomic.Int32
	boom := errors.New("boom")

	err := p.Run(context.Background(), 20, func(_ context.Context, i int) error {
		ran.Add(1)
		if i == 5 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(20), ran.Load())
}

func TestRun_ZeroJobsIsNoop(t *testing.T) {
	p := New(0)
	err := p.Run(context.Background(), 0, func(_ context.Context, _ int) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	p := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, 10, func(_ context.Context, _ int) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
