package repository

import "Trape/internal/domain/models"

// IsValidResolution returns true if res is one of the aggregation windows.
func IsValidResolution(res models.Resolution) bool {
	return res.Index() >= 0
}

// DefaultResolution returns the resolution used when none is requested.
func DefaultResolution() models.Resolution { return models.Res3s }

// NormalizeResolution converts raw string to a valid resolution (or default).
func NormalizeResolution(s string) models.Resolution {
	if s == "" {
		return DefaultResolution()
	}
	res := models.Resolution(s)
	if IsValidResolution(res) {
		return res
	}
	return DefaultResolution()
}
