package asyncbridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockOnReturnsValue(t *testing.T) {
	v, err := BlockOn(func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestBlockOnPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := BlockOn(func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestBridgeBoundsConcurrency(t *testing.T) {
	b := New(1)
	entered := make(chan struct{})
	release := make(chan struct{})
	var inFlight int32

	go func() {
		_ = b.Run(func(ctx context.Context) error {
			atomic.AddInt32(&inFlight, 1)
			close(entered)
			<-release
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
	}()
	<-entered

	// A concurrency bound of 1 means this second call must wait for the
	// first to release its slot before Run's body observes inFlight==0.
	var observed int32 = -1
	secondStarted := make(chan struct{})
	go func() {
		_ = b.Run(func(ctx context.Context) error {
			observed = atomic.LoadInt32(&inFlight)
			close(secondStarted)
			return nil
		})
	}()

	close(release)
	<-secondStarted
	require.Equal(t, int32(0), observed)
}
