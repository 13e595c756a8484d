package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/protomodels/internal/hiscore"
)

// ErrNoImprovement means the threshold was not exceeded before the timeout.
var ErrNoImprovement = errors.New("no improvement")

// PollInterval is how often PollForImprovement re-reads the hiscore file.
const PollInterval = 200 * time.Millisecond

// PollForImprovement polls a hiscore store until its best model exceeds
// threshold. Returns the best entry, or ErrNoImprovement on timeout.
// A missing or briefly locked file is polled again.
func PollForImprovement(ctx context.Context, store *hiscore.Store, threshold float64, timeout time.Duration) (*hiscore.Entry, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("%w: timeout waiting for Z > %.3f after %v", ErrNoImprovement, threshold, timeout)

		case <-ticker.C:
			top, err := store.TopN(ctx, 1)
			if err != nil {
				if errors.Is(err, hiscore.ErrLocked) {
					continue
				}
				return nil, fmt.Errorf("failed to read hiscore: %w", err)
			}
			if len(top) == 0 || top[0].Z <= threshold {
				continue
			}

			best := top[0]
			return &best, nil
		}
	}
}
