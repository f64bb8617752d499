package cache

import (
	"fmt"
	"time"
)

const (
	// ApprovalsChannel carries the id of every approval created or decided.
	ApprovalsChannel  = "cost:approvals"
	ReconcileLeaseKey = "reconcile:lease"
	LatestReportKey   = "reconcile:report:latest"
)

func SpendDayKey(t time.Time) string {
	return fmt.Sprintf("cost:spend:day:%s", t.UTC().Format("2006-01-02"))
}

func SpendMonthKey(t time.Time) string {
	return fmt.Sprintf("cost:spend:month:%s", t.UTC().Format("2006-01"))
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
