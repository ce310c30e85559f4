package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RangeReader is the subset of Client used to walk a stream.
type RangeReader interface {
	XRange(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error)
}

// Scan calls fn for every entry of stream from the oldest, reading pageSize
// entries per round trip. It stops at the first error fn returns.
func Scan(ctx context.Context, r RangeReader, stream string, pageSize int64, fn func(Message) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}

	start := "-"
	for {
		page, err := r.XRange(ctx, stream, start, "+", pageSize)
		if err != nil {
			return err
		}
		for _, xmsg := range page {
			if err := fn(Message{ID: xmsg.ID, Stream: stream, Values: xmsg.Values}); err != nil {
				return err
			}
		}
		if int64(len(page)) < pageSize {
			return nil
		}
		start = "(" + page[len(page)-1].ID
	}
}
