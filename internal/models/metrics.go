package models

// SeriesPoint is one month of credited volume on the dashboard chart.
type SeriesPoint struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// MetricsSnapshot is the live dashboard rollup published to consumers. The
// series always has twelve points covering the trailing twelve calendar
// months, oldest first.
type MetricsSnapshot struct {
	Transactions   int           `json:"transactions"`
	TotalVolume    float64       `json:"totalVolume"`
	ActiveAccounts int           `json:"activeAccounts"`
	Series         []SeriesPoint `json:"series"`
}

// MetricsUpdate is a partial snapshot. Nil fields leave the previous value
// in place, so a narrow update never erases previously computed fields.
type MetricsUpdate struct {
	Transactions   *int
	TotalVolume    *float64
	ActiveAccounts *int
	Series         []SeriesPoint
}

// Merge applies a partial update on top of s and returns the result.
func (s MetricsSnapshot) Merge(u MetricsUpdate) MetricsSnapshot {
	merged := s
	if u.Transactions != nil {
		merged.Transactions = *u.Transactions
	}
	if u.TotalVolume != nil {
		merged.TotalVolume = *u.TotalVolume
	}
	if u.ActiveAccounts != nil {
		merged.ActiveAccounts = *u.ActiveAccounts
	}
	if u.Series != nil {
		merged.Series = u.Series
	}
	return merged
}

// Update converts a full snapshot into an update touching every field.
func (s MetricsSnapshot) Update() MetricsUpdate {
	return MetricsUpdate{
		Transactions:   &s.Transactions,
		TotalVolume:    &s.TotalVolume,
		ActiveAccounts: &s.ActiveAccounts,
		Series:         s.Series,
	}
}
