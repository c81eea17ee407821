package model

import (
	"fmt"
	"time"
)

// UsageSource names the debit strategy that paid for a request.
type UsageSource string

const (
	UsageSourceSubscription UsageSource = "subscription"
	UsageSourcePacket       UsageSource = "packet"
	UsageSourceFree         UsageSource = "free"
)

// DailyBucket is the calendar day of t in loc.
func DailyBucket(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("20060102")
}

// WeeklyBucket is the ISO week (Monday start) of t in loc.
func WeeklyBucket(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d%02d", year, week)
}

// UsageWindowKey addresses the counter of (user, class, bucket) for tier.
func UsageWindowKey(userID string, class ResourceClass, tier Tier, t time.Time, loc *time.Location) string {
	if tier.Paid() {
		return fmt.Sprintf("usage:sub:daily:%s:%s:%s", userID, class, DailyBucket(t, loc))
	}
	return fmt.Sprintf("usage:free:weekly:%s:%s:%s", userID, class, WeeklyBucket(t, loc))
}

// ConsumeResult is the outcome of an atomic increment-with-limit.
type ConsumeResult struct {
	Accepted bool
	Total    int64
}

// UsageSnapshot is the read-only view of a usage window.
type UsageSnapshot struct {
	Units  int64
	Tokens int64
}

// UsageEvent is one accepted debit in the audit ledger.
type UsageEvent struct {
	ID             string
	RequestID      string
	UserID         string
	Source         UsageSource
	Amount         int64
	SubscriptionID *string
	UserPacketID   *string
	CreatedAt      time.Time
}
