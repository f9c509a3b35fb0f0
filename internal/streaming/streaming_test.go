package streaming

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	batches [][]int
	next    int
	failAt  int
	failErr error
}

func (s *sliceSource) NextBatch(ctx context.Context) ([]int, error) {
	if s.failErr != nil && s.next == s.failAt {
		return nil, s.failErr
	}
	if s.next >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.next]
	s.next++
	return b, nil
}

func TestStreamFlattensBatches(t *testing.T) {
	src := &sliceSource{batches: [][]int{{1, 2}, {3}, {4, 5, 6}}}
	s := New[int](context.Background(), src, 2)

	out, err := Collect(s)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, out)
}

func TestStreamSurfacesNextBatchError(t *testing.T) {
	wantErr := errors.New("boom")
	src := &sliceSource{batches: [][]int{{1, 2}}, failAt: 1, failErr: wantErr}
	s := New[int](context.Background(), src, 2)

	out, err := Collect(s)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, []int{1, 2}, out)
}
