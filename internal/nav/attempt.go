package nav

import (
	"context"
	"time"

	"github.com/banshee-data/cryptomaster/internal/geom"
)

// Attempt sends pose to n, bounding each try by timeout (no bound when
// timeout <= 0), and retries up to retries more times while the goal does
// not succeed. It returns the status and error of the last try. A cancelled
// parent context stops further tries.
func Attempt(ctx context.Context, n Navigator, pose geom.Pose, timeout time.Duration, retries int) (Status, error) {
	var (
		st  Status
		err error
	)
	for try := 0; try <= retries; try++ {
		st, err = moveOnce(ctx, n, pose, timeout)
		if err == nil && st.Succeeded() {
			return st, nil
		}
		if ctx.Err() != nil {
			break
		}
		if try < retries {
			logf("goal %s finished %s (err=%v), retry %d/%d", pose.Position, st, err, try+1, retries)
		}
	}
	return st, err
}

func moveOnce(ctx context.Context, n Navigator, pose geom.Pose, timeout time.Duration) (Status, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	st, err := n.MoveTo(ctx, pose)
	if err == nil && !st.Succeeded() {
		if ts, done := timeoutStatus(ctx); done && ts == StatusTimedOut {
			st = StatusTimedOut
		}
	}
	return st, err
}
