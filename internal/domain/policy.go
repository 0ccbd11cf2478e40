package domain

// PrecipitationThresholdMM is the PAGASA yellow rainfall warning threshold.
// Readings must be strictly above it to activate a fence.
const PrecipitationThresholdMM = 7.5

// Precipitation is a precipitation level that may be unknown because the
// source failed. The zero value is unknown.
type Precipitation struct {
	MM    float64
	Known bool
}

// KnownPrecipitation wraps a successful reading.
func KnownPrecipitation(mm float64) Precipitation {
	return Precipitation{MM: mm, Known: true}
}

// Reasons attached to a Decision.
const (
	ReasonAdvisory      = "advisory"
	ReasonPrecipitation = "precipitation"
	ReasonClear         = "clear"
	ReasonNoEvidence    = "no_evidence" // no advisory and precipitation unknown
)

// Decision is the activation verdict for one fence evaluation.
type Decision struct {
	Active  bool
	Reason  string
	Hazards []HazardCategory
}

// Decide applies the activation policy. It is a pure function of its inputs.
func Decide(bundle AdvisoryBundle, precip Precipitation) Decision {
	hazards := bundle.Active()
	heavyRain := precip.Known && precip.MM > PrecipitationThresholdMM

	switch {
	case len(hazards) > 0:
		return Decision{Active: true, Reason: ReasonAdvisory, Hazards: hazards}
	case heavyRain:
		return Decision{Active: true, Reason: ReasonPrecipitation}
	case !precip.Known:
		return Decision{Active: false, Reason: ReasonNoEvidence}
	default:
		return Decision{Active: false, Reason: ReasonClear}
	}
}
