package geometry

import "math"

// Quality is the assessed quality of a calibrated transform.
type Quality string

const (
	// QualityExcellent indicates rotation error < 0.25° and translation error < 1mm
	QualityExcellent Quality = "excellent"
	// QualityGood indicates rotation error < 1° and translation error < 5mm
	QualityGood Quality = "good"
	// QualityFair indicates rotation error < 2° and translation error < 10mm - usable but consider recalibration
	QualityFair Quality = "fair"
	// QualityPoor is anything worse - requires recalibration
	QualityPoor Quality = "poor"
	// QualityUnknown indicates the residual was not computed
	QualityUnknown Quality = "unknown"
)

// Residual thresholds (rotation in degrees, translation in metres)
const (
	RotationThresholdExcellent    = 0.25
	RotationThresholdGood         = 1.0
	RotationThresholdFair         = 2.0
	TranslationThresholdExcellent = 0.001
	TranslationThresholdGood      = 0.005
	TranslationThresholdFair      = 0.010
)

// ClassifyResidual grades a mean rotation (degrees) and translation (metres)
// residual. The worse of the two decides.
func ClassifyResidual(rotDeg, trans float64) Quality {
	if math.IsNaN(rotDeg) || math.IsNaN(trans) || rotDeg < 0 || trans < 0 {
		return QualityUnknown
	}
	switch {
	case rotDeg < RotationThresholdExcellent && trans < TranslationThresholdExcellent:
		return QualityExcellent
	case rotDeg < RotationThresholdGood && trans < TranslationThresholdGood:
		return QualityGood
	case rotDeg < RotationThresholdFair && trans < TranslationThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Usable reports whether a transform of this quality can drive the arm.
// Unknown is allowed with caution.
func (q Quality) Usable() bool {
	return q != QualityPoor
}

// String returns a human-readable description of the quality.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent (< 0.25°, < 1mm)"
	case QualityGood:
		return "good (< 1°, < 5mm)"
	case QualityFair:
		return "fair (< 2°, < 10mm)"
	case QualityPoor:
		return "poor (recalibration required)"
	case QualityUnknown:
		return "unknown (residual not computed)"
	default:
		return string(q)
	}
}
