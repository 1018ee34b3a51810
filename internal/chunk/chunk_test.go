package chunk

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestPartition(t *testing.T) {
	t.Run("every id lands in exactly one batch", func(t *testing.T) {
		for _, tc := range []struct {
			n, size int
		}{{0, 3}, {1, 3}, {3, 3}, {10, 3}, {1000, 500}, {1001, 500}, {7, 1}} {
			ids := sequence(tc.n)
			batches, err := Partition(ids, tc.size)
			require.NoError(t, err)

			seen := make(map[int64]int)
			var flattened []int64
			for _, b := range batches {
				assert.NotEmpty(t, b)
				assert.LessOrEqual(t, len(b), tc.size)
				for _, id := range b {
					seen[id]++
					flattened = append(flattened, id)
				}
			}

			assert.Len(t, seen, tc.n)
			for id, count := range seen {
				assert.Equal(t, 1, count, "id %d", id)
			}

			if tc.n > 0 {
				assert.Equal(t, ids, flattened)
			}
		}
	})

	t.Run("duplicates are processed once", func(t *testing.T) {
		batches, err := Partition([]int64{5, 3, 5, 1, 3}, 2)
		require.NoError(t, err)
		assert.Equal(t, [][]int64{{5, 3}, {1}}, batches)
	})

	t.Run("size must be positive", func(t *testing.T) {
		_, err := Partition([]int64{1}, 0)
		assert.True(t, errors.Is(err, ErrInvalidSize))
	})

	t.Run("appending to a batch does not clobber the next one", func(t *testing.T) {
		batches, err := Partition(sequence(4), 2)
		require.NoError(t, err)

		_ = append(batches[0], 99)
		assert.Equal(t, []int64{3, 4}, batches[1])
	})
}

func TestDifference(t *testing.T) {
	assert.Equal(t, []int64{2, 4}, Difference([]int64{1, 2, 3, 4, 2}, []int64{3, 1}))
	assert.Nil(t, Difference([]int64{1}, []int64{1}))
}

func TestEach(t *testing.T) {
	t.Run("runs all batches in order", func(t *testing.T) {
		var got [][]int64
		err := Each(context.Background(), sequence(5), 2, func(_ context.Context, i int, batch []int64) error {
			assert.Equal(t, len(got), i)
			got = append(got, batch)
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, got)
	})

	t.Run("stops at the first failing batch", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Each(context.Background(), sequence(6), 2, func(_ context.Context, i int, _ []int64) error {
			calls++
			if i == 1 {
				return boom
			}
			return nil
		})

		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, "chunk 2 of 3 failed: boom", err.Error())
		assert.Equal(t, 2, calls)
	})
}
