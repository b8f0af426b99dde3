package ledger

import "strings"

// NormalizeProviderStatus maps a provider's status vocabulary onto the
// transaction taxonomy using case-insensitive substring matching. The second
// return is false when the raw status does not express a terminal outcome
// (still processing, unrecognized vendor phrasing), letting pollers keep the
// transaction pending while webhook handlers choose their own fallback.
func NormalizeProviderStatus(raw string) (Status, bool) {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "SUCCESS"), strings.Contains(upper, "COMPLETED"):
		return StatusSuccess, true
	case strings.Contains(upper, "EXPIRED"):
		return StatusExpired, true
	case strings.Contains(upper, "CANCEL"):
		return StatusCancelled, true
	case strings.Contains(upper, "FAILED"):
		return StatusFailed, true
	}
	return StatusPending, false
}
