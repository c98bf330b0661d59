// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package retry provides the bounded polling discipline shared by the
authentication, session, metadata and UPO lookups.

# Polling

Poll calls an attempt function until it reports completion, an unexpected
error occurs, or a bound is exhausted:

	status, err := retry.Poll(ctx, retry.SystemClock{}, retry.Policy{
	    Interval:    2 * time.Second,
	    MaxAttempts: 10,
	}, func(ctx context.Context, attempt int) (*message.SessionStatus, bool, error) {
	    st, err := mgr.Status(ctx, ref)
	    if err != nil {
	        return nil, false, err
	    }
	    return st, mgr.IsTerminal(st.Code), nil
	})

Errors exposing an HTTP status (see HTTPError) are classified:

  - 429: sleep the server's Retry-After hint, 30s when absent
  - 404: the resource is not visible yet, sleep max(NotFoundDelay, Interval)
  - anything else is returned immediately

When MaxAttempts or MaxWait is exhausted, Poll returns the last value seen and
a *TimeoutError, which matches ErrTimeout with errors.Is. A single long
Retry-After sleep never aborts a poll on its own: the wall-clock bound is only
checked before sleeping.

# Clocks

All sleeping goes through a Clock. SystemClock uses timers and honours context
cancellation; ManualClock advances virtual time and records every sleep so
tests run instantly.
*/
package retry
