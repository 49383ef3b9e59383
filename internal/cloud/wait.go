package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ai-dynamo/dynamo-cli/internal/timing"
)

// Longest interval between readiness checks.
const maxPollInterval = 30 * time.Second

// Returned by a readiness check while the deployment is still starting.
var errNotReady = errors.New("deployment not ready")

// Polls a deployment until it is running.
//
// Checks back off exponentially from the client's poll interval. A
// deployment in a failure state stops polling with [ErrFailed]; one that is
// not running after timeout yields [ErrTimeout]. Authorization and lookup
// failures are not retried.
func (c *Client) WaitUntilReady(ctx context.Context, name, cluster string, timeout time.Duration) (*Deployment, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	defer timing.Track("wait deployment", logrus.Fields{"name": name})()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = maxPollInterval
	b.MaxElapsedTime = timeout

	var (
		last      *Deployment
		permanent bool
	)
	stop := func(err error) error {
		permanent = true
		return backoff.Permanent(err)
	}
	check := func() error {
		d, err := c.Get(ctx, name, cluster)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
				return stop(err)
			}
			return err
		}
		last = d

		switch d.Status {
		case StatusRunning:
			return nil
		case StatusFailed, StatusImageBuildFailed:
			return stop(fmt.Errorf("%w: %s is %s", ErrFailed, name, d.Status))
		}
		return errNotReady
	}

	notify := func(err error, next time.Duration) {
		status := ""
		if last != nil {
			status = last.Status
		}
		logrus.WithFields(logrus.Fields{"name": name, "status": status, "next": next}).WithError(err).Debug("deployment not ready")
	}

	if err := backoff.RetryNotify(check, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if permanent {
			return nil, err
		}
		// Retries ran out; the last check may have been a transient failure.
		logrus.WithError(err).WithField("name", name).Debug("last check before timeout")
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}

	logrus.WithFields(logrus.Fields{"name": name, "cluster": last.Cluster}).Info("deployment ready")
	return last, nil
}
