package monitoring

// Severity classifies a reading against its thresholds. The order is
// significant: Alert > Warning > Normal.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityAlert
)

// String returns the severity label.
func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityWarning:
		return "warning"
	case SeverityAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}
