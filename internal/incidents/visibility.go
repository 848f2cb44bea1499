package incidents

import (
	"time"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// minVisibleResolvedDuration is the threshold below which a resolved
// incident is hidden from public surfaces. Incidents opened by mistake and
// resolved within minutes never appear on the status page.
const minVisibleResolvedDuration = 5 * time.Minute

// Visible reports whether an incident appears on public surfaces. Active
// incidents are always visible; resolved incidents only when they ran
// longer than the threshold. A resolved incident missing its resolve
// timestamp is measured against now.
func Visible(incident *domain.Incident, now time.Time) bool {
	if incident.IsActive() {
		return true
	}

	end := now
	if incident.ResolvedAt != nil {
		end = *incident.ResolvedAt
	}
	return end.Sub(incident.StartedAt) > minVisibleResolvedDuration
}

// FilterVisible returns the incidents that pass the public visibility rule,
// preserving order.
func FilterVisible(incidents []domain.Incident, now time.Time) []domain.Incident {
	visible := make([]domain.Incident, 0, len(incidents))
	for i := range incidents {
		if Visible(&incidents[i], now) {
			visible = append(visible, incidents[i])
		}
	}
	return visible
}
