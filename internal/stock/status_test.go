package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in2d := now.Add(2 * 24 * time.Hour)
	in10d := now.Add(10 * 24 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)

	cases := []struct {
		name    string
		current float64
		min     float64
		max     float64
		expiry  *time.Time
		want    Status
	}{
		{"zero stock", 0, 5, 0, nil, StatusOutOfStock},
		{"negative stock clamps to out", -1, 5, 0, nil, StatusOutOfStock},
		{"zero stock beats expiring", 0, 5, 0, &in2d, StatusOutOfStock},
		{"expiring within window", 20, 5, 0, &in2d, StatusExpiring},
		{"already expired still classifies expiring", 20, 5, 0, &yesterday, StatusExpiring},
		{"expiring beats low stock", 3, 5, 0, &in2d, StatusExpiring},
		{"expiry outside window ignored", 20, 5, 0, &in10d, StatusInStock},
		{"at minimum is low", 5, 5, 0, nil, StatusLowStock},
		{"below minimum is low", 4, 5, 0, nil, StatusLowStock},
		{"above maximum", 25, 5, 20, nil, StatusOverstock},
		{"zero maximum disables overstock", 1000, 5, 0, nil, StatusInStock},
		{"between thresholds", 10, 5, 20, nil, StatusInStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.current, tc.min, tc.max, tc.expiry, now)
			require.Equal(t, tc.want, got)
			// Same inputs, same answer.
			require.Equal(t, got, Classify(tc.current, tc.min, tc.max, tc.expiry, now))
		})
	}
}

func TestDesiredAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	base := StockRecord{ID: "r1", ItemName: "Tomatoes", Unit: "kg", MinimumStock: 10, MaximumStock: 100}

	alertTypes := func(specs []AlertSpec) []AlertType {
		types := make([]AlertType, 0, len(specs))
		for _, spec := range specs {
			types = append(types, spec.Type)
		}
		return types
	}

	t.Run("healthy record wants nothing", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 50
		require.Empty(t, DesiredAlerts(rec, now))
	})

	t.Run("out of stock is critical and excludes low stock", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 0
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeOutOfStock}, alertTypes(specs))
		require.Equal(t, SeverityCritical, specs[0].Severity)
	})

	t.Run("low stock is a warning", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 8
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeLowStock}, alertTypes(specs))
		require.Equal(t, SeverityWarning, specs[0].Severity)
		require.InDelta(t, 10.0, specs[0].Threshold, 1e-9)
	})

	t.Run("overstock is informational", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 150
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeOverstock}, alertTypes(specs))
		require.Equal(t, SeverityInfo, specs[0].Severity)
	})

	t.Run("expiry stacks on top of stock level", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 8
		expiry := now.Add(5 * 24 * time.Hour)
		rec.ExpiryDate = &expiry
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeLowStock, AlertTypeExpiringStock}, alertTypes(specs))
		require.Equal(t, SeverityWarning, specs[1].Severity, "five days out is a warning")
	})

	t.Run("imminent expiry escalates to critical", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 50
		expiry := now.Add(2 * 24 * time.Hour)
		rec.ExpiryDate = &expiry
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeExpiringStock}, alertTypes(specs))
		require.Equal(t, SeverityCritical, specs[0].Severity)
	})

	t.Run("past expiry switches to expired", func(t *testing.T) {
		rec := base
		rec.CurrentStock = 50
		expiry := now.Add(-time.Hour)
		rec.ExpiryDate = &expiry
		specs := DesiredAlerts(rec, now)
		require.Equal(t, []AlertType{AlertTypeExpiredStock}, alertTypes(specs))
		require.Equal(t, SeverityCritical, specs[0].Severity)
	})
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 2, DaysUntil(now.Add(36*time.Hour), now), "partial days round up")
	require.Equal(t, 1, DaysUntil(now.Add(24*time.Hour), now))
	require.Equal(t, 0, DaysUntil(now, now))
	require.Equal(t, -1, DaysUntil(now.Add(-36*time.Hour), now))
}
