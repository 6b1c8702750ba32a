package chain

import (
	"context"
	"fmt"
)

// TimeReader is the slice of the RPC surface the locator needs.
type TimeReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, n uint64) (uint64, error)
}

// FindBlockByTime locates the smallest block number in [lowerBound, head]
// whose timestamp is >= target. The result is clamped to the search interval:
// a return value equal to the current head can mean the target timestamp has
// not been reached yet, and callers must check the head block's own timestamp
// if the distinction matters. Fetch failures propagate; retry policy belongs
// to the caller.
func FindBlockByTime(ctx context.Context, r TimeReader, lowerBound uint64, target uint64) (uint64, error) {
	head, err := r.HeadBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	if lowerBound > head {
		return 0, fmt.Errorf("lower bound %d ahead of head %d", lowerBound, head)
	}

	lo, hi := lowerBound, head
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := r.BlockTime(ctx, mid)
		if err != nil {
			return 0, fmt.Errorf("fetch block %d: %w", mid, err)
		}
		if ts < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}
