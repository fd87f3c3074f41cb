package telemetry

import "strings"

// Normalized quality values attached to every sample.
const (
	QualityGood      = "good"
	QualityBad       = "bad"
	QualityUncertain = "uncertain"
)

// NormalizeQuality maps a raw wire quality (numeric OPC-style code or free
// string) onto the tri-state quality. Pure function.
func NormalizeQuality(raw any) string {
	switch q := raw.(type) {
	case nil:
		return QualityUncertain
	case float64:
		return normalizeNumericQuality(int(q))
	case int:
		return normalizeNumericQuality(q)
	case string:
		switch strings.ToLower(strings.TrimSpace(q)) {
		case "good", "ok":
			return QualityGood
		case "bad", "error", "fault":
			return QualityBad
		case "uncertain", "stale":
			return QualityUncertain
		default:
			return QualityUncertain
		}
	default:
		return QualityUncertain
	}
}

func normalizeNumericQuality(code int) string {
	switch code {
	case 192:
		return QualityGood
	case 0:
		return QualityBad
	case 64:
		return QualityUncertain
	default:
		if code >= 128 {
			return QualityGood
		}
		return QualityUncertain
	}
}
