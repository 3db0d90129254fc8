// Package usage implements per-tenant usage accounting: session and
// action-minute counters bucketed by month, read back for quota
// dashboards and cost estimation. Grounded on the teacher's
// services/billing/service.go TrackUsage/GetUsage month-bucketed
// sync.Map pattern; the payment-processing and subscription
// machinery in that file (Stripe integration, CancelSubscription) has
// no analogue here — this spec has no billing/payment component, only
// usage metering, so those parts are not adapted (see DESIGN.md).
package usage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"browserfleet/logger"
)

// Record is one organization's accumulated usage for one calendar
// month.
type Record struct {
	OrganizationID string
	Month          string // "2006-01"
	Sessions       int64
	ActionCount    int64
	BrowserMinutes float64
	FirstSeen      time.Time
	LastSeen       time.Time
}

// Accountant is the core's usage-tracking service.
type Accountant struct {
	mu      sync.Mutex
	records map[string]*Record // "orgID:2006-01" -> record
}

// New constructs an Accountant.
func New() *Accountant {
	return &Accountant{records: make(map[string]*Record)}
}

func key(orgID, month string) string { return orgID + ":" + month }

// TrackSession records one session start for orgID.
func (a *Accountant) TrackSession(orgID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.recordLocked(orgID, time.Now())
	r.Sessions++
}

// TrackAction records one executed action and the browser time it
// consumed.
func (a *Accountant) TrackAction(orgID string, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.recordLocked(orgID, time.Now())
	r.ActionCount++
	r.BrowserMinutes += elapsed.Minutes()
}

func (a *Accountant) recordLocked(orgID string, now time.Time) *Record {
	month := now.Format("2006-01")
	k := key(orgID, month)
	r, ok := a.records[k]
	if !ok {
		r = &Record{OrganizationID: orgID, Month: month, FirstSeen: now}
		a.records[k] = r
		logger.Debug("usage: opened new monthly record", zap.String("org_id", orgID), zap.String("month", month))
	}
	r.LastSeen = now
	return r
}

// GetUsage returns the org's usage for month, zero-valued if none
// recorded yet.
func (a *Accountant) GetUsage(orgID, month string) Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[key(orgID, month)]; ok {
		return *r
	}
	return Record{OrganizationID: orgID, Month: month}
}
