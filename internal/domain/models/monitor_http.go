package models

// Query parameters of the monitoring endpoints.

type StatsRequest struct {
	Resolution string `query:"resolution" json:"resolution" default:"3s" validate:"oneof=3s 15s 2m 10m 2h"`
	Symbol     string `query:"symbol" json:"symbol" validate:"omitempty,symbol"`
}

type TrendRequest struct {
	Resolution string `query:"resolution" json:"resolution" default:"3s" validate:"oneof=3s 15s 2m 10m 2h"`
}

type RecommendationsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,symbol"`
	// Since is RFC3339 or unix seconds/millis; empty returns everything.
	Since string `query:"since" json:"since"`
}

// SymbolCrossings is the per-symbol event view served by /api/crossings.
type SymbolCrossings struct {
	Symbol      string        `json:"symbol"`
	MA10mMA30m  CrossingEvent `json:"ma10m_ma30m"`
	MA1hMA3h    CrossingEvent `json:"ma1h_ma3h"`
	LastFalling FallingPrice  `json:"last_falling"`
}
