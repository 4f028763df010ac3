package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-record-service/internal/models"
)

// requestCoalescer shares one stats computation among concurrent callers
// asking for the same key. The shared computation runs detached from any
// single caller's cancellation and is bounded by timeout instead.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per in-flight key. shared reports whether the result was
// delivered to more than one caller. A caller whose ctx ends stops waiting
// without affecting the others.
func (rc *requestCoalescer) Do(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) ([]models.WeatherStatsResult, error),
) (results []models.WeatherStatsResult, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		return fn(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]models.WeatherStatsResult), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
