package sessionclient

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	refreshKey = "refresh"

	defaultRefreshTimeout = 30 * time.Second
)

// refresher guarantees at most one refresh call in flight. Callers that fail
// while it runs wait for it and share its outcome, or give up when their own
// context ends.
type refresher struct {
	group   singleflight.Group
	store   TokenStore
	timeout time.Duration
	call    func(ctx context.Context) (Session, error)
}

// fresh returns an access token other than stale. When the store already
// holds a newer token (another request refreshed first) it is returned
// without a network call; when the session was cleared after stale was sent
// it fails with ErrSessionExpired.
func (r *refresher) fresh(ctx context.Context, stale string) (string, error) {
	if token, done, err := r.settled(stale); done {
		return token, err
	}

	ch := r.group.DoChan(refreshKey, func() (any, error) {
		if token, done, err := r.settled(stale); done {
			return token, err
		}
		// Detached from the leading caller, so the waiters it serves are not
		// failed by its cancellation, but bounded on its own.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout())
		defer cancel()

		s, err := r.call(callCtx)
		if err != nil {
			return "", err
		}
		return s.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *refresher) refreshTimeout() time.Duration {
	if r.timeout <= 0 {
		return defaultRefreshTimeout
	}
	return r.timeout
}

func (r *refresher) settled(stale string) (string, bool, error) {
	s, ok := r.store.Load()
	switch {
	case !ok && stale != "":
		return "", true, ErrSessionExpired
	case ok && s.AccessToken != stale:
		return s.AccessToken, true, nil
	default:
		return "", false, nil
	}
}
