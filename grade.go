package caracal

// Grade is a human-readable quality band.
type Grade string

const (
	GradeExcellent Grade = "Excellent"
	GradeVeryGood  Grade = "Very Good"
	GradeGood      Grade = "Good"
	GradeFair      Grade = "Fair"
	GradePoor      Grade = "Poor"
)

// GradeFor maps an overall quality score to its band.
func GradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeExcellent
	case score >= 80:
		return GradeVeryGood
	case score >= 70:
		return GradeGood
	case score >= 60:
		return GradeFair
	default:
		return GradePoor
	}
}
