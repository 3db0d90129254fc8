package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackSessionAndActionAccumulate(t *testing.T) {
	a := New()
	a.TrackSession("org-1")
	a.TrackSession("org-1")
	a.TrackAction("org-1", 90*time.Second)

	month := time.Now().Format("2006-01")
	r := a.GetUsage("org-1", month)
	require.Equal(t, int64(2), r.Sessions)
	require.Equal(t, int64(1), r.ActionCount)
	require.InDelta(t, 1.5, r.BrowserMinutes, 0.001)
}

func TestGetUsageUnknownOrgReturnsZeroValue(t *testing.T) {
	a := New()
	r := a.GetUsage("nobody", "2026-01")
	require.Equal(t, int64(0), r.Sessions)
}
