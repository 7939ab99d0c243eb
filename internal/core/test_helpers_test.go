package core

import (
	"context"
	"testing"

	"graphversioner/pkg/domain"
)

const (
	t0 int64 = 593910000000
	t1 int64 = 593920000000
	t2 int64 = 593930000000
)

func ts(v int64) *int64 { return &v }

// seedEntity creates entity 0 with state 1 current since t0 and an open
// "active" interval.
func seedEntity(t *testing.T, svc *Service) InitResult {
	t.Helper()
	out, _, err := svc.Init(context.Background(), InitRequest{
		StateProperties: domain.PropertySet{"key": domain.String("initialValue")},
		ContextLabel:    "active",
		Timestamp:       ts(t0),
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return out
}

func mustView(t *testing.T, svc *Service, fn func(TransactionView)) {
	t.Helper()
	if err := svc.Store().View(context.Background(), func(v TransactionView) error {
		fn(v)
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
