package analytics

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/returns"
)

// assignStatus picks the most severe applicable status. Failures never reach here.
func assignStatus(h *valuationHistory, series *returns.Series) (models.CalculationStatus, string) {
	status := models.StatusOK
	var reasons []string

	if n := len(h.current.Unresolved); n > 0 {
		status = status.Worse(models.StatusMissingPriceData)
		ids := make([]string, n)
		for i, u := range h.current.Unresolved {
			ids[i] = u.SecurityID
		}
		reasons = append(reasons, fmt.Sprintf("%d of %d holdings unresolved: %s",
			n, h.current.HoldingCount, strings.Join(ids, ", ")))
	}

	if n := len(h.skipped) + len(series.Exclusions); n > 0 {
		status = status.Worse(models.StatusPartial)
		reasons = append(reasons, fmt.Sprintf("%d of %d dates excluded from the return series",
			n, h.expected))
	}

	if series.Observations() < 2 {
		status = status.Worse(models.StatusInsufficientHistory)
		reasons = append(reasons, fmt.Sprintf("%d return observations", series.Observations()))
	}

	return status, strings.Join(reasons, "; ")
}
