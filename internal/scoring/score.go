// Package scoring computes patch-weighted leaderboard scores.
package scoring

// penaltyTenthsPerMinor is the staleness tax per minor version, in tenths.
const penaltyTenthsPerMinor = 1

// WeightedScore returns the ranking score for a save that reached rawDays on
// patch minor version saveMinor, evaluated against latestMinor.
//
// Saves on the reference patch or newer keep their raw days. Older saves are
// taxed 10% per minor version of staleness and floored:
//
//	floor(rawDays * (1 + 0.1*(latestMinor-saveMinor)))
//
// The product is evaluated in integer tenths so the result never depends on
// floating point rounding.
func WeightedScore(rawDays int64, saveMinor, latestMinor int) int64 {
	if saveMinor >= latestMinor || rawDays <= 0 {
		return rawDays
	}
	gap := int64(latestMinor - saveMinor)
	multiplierTenths := 10 + gap*penaltyTenthsPerMinor
	return rawDays * multiplierTenths / 10
}
