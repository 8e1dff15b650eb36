package domain

import (
	"context"
	"time"
)

const RevenueBucketTotal = "total"

type RevenueAggregate struct {
	OwnerID  int
	Currency string
	Bucket   string
	Gross    int64
	Refunded int64
	Net      int64
}

// RevenueDelta is applied to both the total and the monthly bucket of At.
type RevenueDelta struct {
	OwnerID  int
	Currency string
	Gross    int64
	Refunded int64
	At       time.Time
}

func RevenueBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type RevenueRepository interface {
	Get(ctx context.Context, ownerID int, currency, bucket string) (*RevenueAggregate, error)
}
