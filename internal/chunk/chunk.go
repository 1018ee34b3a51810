package chunk

import (
	"context"

	"github.com/pkg/errors"
)

const DefaultSize = 500

var ErrInvalidSize = errors.New("chunk size must be greater than zero")

// Partition splits ids into consecutive batches of at most size elements.
// Order is preserved and duplicate ids are dropped, so every id lands in
// exactly one batch.
func Partition(ids []int64, size int) ([][]int64, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "got %d", size)
	}

	unique := Unique(ids)
	if len(unique) == 0 {
		return nil, nil
	}

	batches := make([][]int64, 0, (len(unique)+size-1)/size)
	for start := 0; start < len(unique); start += size {
		end := start + size
		if end > len(unique) {
			end = len(unique)
		}

		batches = append(batches, unique[start:end:end])
	}

	return batches, nil
}

// Unique returns ids without duplicates keeping the first occurrence
func Unique(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		result = append(result, id)
	}

	return result
}

// Difference returns the ids of all that are not in handled, in the order of all
func Difference(all, handled []int64) []int64 {
	skip := make(map[int64]struct{}, len(handled))
	for _, id := range handled {
		skip[id] = struct{}{}
	}

	var result []int64
	for _, id := range Unique(all) {
		if _, ok := skip[id]; !ok {
			result = append(result, id)
		}
	}

	return result
}

// Runner executes one batch, typically wrapping it in its own transaction
type Runner func(ctx context.Context, index int, batch []int64) error

// Each partitions ids and runs every batch in order, stopping at the first
// failure. Batches that already ran are not undone.
func Each(ctx context.Context, ids []int64, size int, run Runner) error {
	batches, err := Partition(ids, size)
	if err != nil {
		return err
	}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "chunk %d of %d not started", i+1, len(batches))
		}

		if err := run(ctx, i, batch); err != nil {
			return errors.Wrapf(err, "chunk %d of %d failed", i+1, len(batches))
		}
	}

	return nil
}
