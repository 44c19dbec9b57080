package stock

import (
	"fmt"
	"math"
	"time"
)

// ExpiryWarningWindow is how far ahead of the expiry date a record starts
// counting as expiring.
const ExpiryWarningWindow = 7 * 24 * time.Hour

// expiryCriticalWindow escalates expiring alerts to critical severity.
const expiryCriticalWindow = 3 * 24 * time.Hour

// Classify derives the record status. Evaluation order is a deliberate
// tie-break: out-of-stock wins over expiring, expiring wins over low stock.
func Classify(currentStock, minimumStock, maximumStock float64, expiryDate *time.Time, now time.Time) Status {
	switch {
	case currentStock <= 0:
		return StatusOutOfStock
	case expiryDate != nil && expiryDate.Sub(now) <= ExpiryWarningWindow:
		return StatusExpiring
	case currentStock <= minimumStock:
		return StatusLowStock
	case maximumStock > 0 && currentStock > maximumStock:
		return StatusOverstock
	default:
		return StatusInStock
	}
}

// AlertSpec describes one alert the engine wants open for a record.
type AlertSpec struct {
	Type         AlertType
	Severity     AlertSeverity
	Message      string
	CurrentValue float64
	Threshold    float64
}

// DesiredAlerts computes the full set of alerts that should be open for the
// record right now. The engine reconciles the alert store against this set
// after every mutation: missing alerts are created, stale ones resolved.
func DesiredAlerts(rec StockRecord, now time.Time) []AlertSpec {
	var specs []AlertSpec

	switch {
	case rec.CurrentStock <= 0:
		specs = append(specs, AlertSpec{
			Type:         AlertTypeOutOfStock,
			Severity:     SeverityCritical,
			Message:      fmt.Sprintf("%s is out of stock", rec.ItemName),
			CurrentValue: rec.CurrentStock,
			Threshold:    rec.MinimumStock,
		})
	case rec.CurrentStock <= rec.MinimumStock:
		specs = append(specs, AlertSpec{
			Type:         AlertTypeLowStock,
			Severity:     SeverityWarning,
			Message:      fmt.Sprintf("%s is below minimum stock (%.2f %s <= %.2f %s)", rec.ItemName, rec.CurrentStock, rec.Unit, rec.MinimumStock, rec.Unit),
			CurrentValue: rec.CurrentStock,
			Threshold:    rec.MinimumStock,
		})
	case rec.MaximumStock > 0 && rec.CurrentStock > rec.MaximumStock:
		specs = append(specs, AlertSpec{
			Type:         AlertTypeOverstock,
			Severity:     SeverityInfo,
			Message:      fmt.Sprintf("%s exceeds maximum stock (%.2f %s > %.2f %s)", rec.ItemName, rec.CurrentStock, rec.Unit, rec.MaximumStock, rec.Unit),
			CurrentValue: rec.CurrentStock,
			Threshold:    rec.MaximumStock,
		})
	}

	if rec.ExpiryDate != nil {
		remaining := rec.ExpiryDate.Sub(now)
		switch {
		case remaining <= 0:
			specs = append(specs, AlertSpec{
				Type:         AlertTypeExpiredStock,
				Severity:     SeverityCritical,
				Message:      fmt.Sprintf("%s expired on %s", rec.ItemName, rec.ExpiryDate.Format("2006-01-02")),
				CurrentValue: rec.CurrentStock,
				Threshold:    0,
			})
		case remaining <= ExpiryWarningWindow:
			severity := SeverityWarning
			if remaining <= expiryCriticalWindow {
				severity = SeverityCritical
			}
			specs = append(specs, AlertSpec{
				Type:         AlertTypeExpiringStock,
				Severity:     severity,
				Message:      fmt.Sprintf("%s expires in %d day(s)", rec.ItemName, DaysUntil(*rec.ExpiryDate, now)),
				CurrentValue: rec.CurrentStock,
				Threshold:    float64(ExpiryWarningWindow / (24 * time.Hour)),
			})
		}
	}

	return specs
}

// DaysUntil counts whole days remaining until the deadline, rounding up.
// Deadlines in the past yield zero or negative values.
func DaysUntil(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}
