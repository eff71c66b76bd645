// Package advisory turns a corridor-filtered set of defect records into a
// severity tally and a travel verdict.
package advisory

import (
	"fmt"
	"strings"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
)

// Verdict is the three-valued travel recommendation for a route
type Verdict int

const (
	SafeToTravel Verdict = iota
	ProceedWithCaution
	NotAdvisable
)

func (v Verdict) String() string {
	switch v {
	case SafeToTravel:
		return "SafeToTravel"
	case ProceedWithCaution:
		return "ProceedWithCaution"
	case NotAdvisable:
		return "NotAdvisable"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// MarshalText writes the verdict name
func (v Verdict) MarshalText() ([]byte, error) {
	if v < SafeToTravel || v > NotAdvisable {
		return nil, fmt.Errorf("unknown verdict %d", int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText reads a verdict name
func (v *Verdict) UnmarshalText(text []byte) error {
	for _, candidate := range []Verdict{SafeToTravel, ProceedWithCaution, NotAdvisable} {
		if string(text) == candidate.String() {
			*v = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", string(text))
}

// Policy names the designated tier whose count drives the verdict and the two
// exclusive thresholds applied to it. The count must exceed a threshold to
// escalate.
type Policy struct {
	Name           string          `json:"name" yaml:"name"`
	DesignatedTier defect.Severity `json:"designated_tier" yaml:"designated_tier"`
	LowerThreshold int             `json:"lower_threshold" yaml:"lower_threshold"`
	UpperThreshold int             `json:"upper_threshold" yaml:"upper_threshold"`
}

// Policy names accepted by PolicyByName
const (
	HighTierPolicyName   = "high"
	MediumTierPolicyName = "medium"
)

var (
	// HighTierPolicy keys on high severity defects: more than one is a caution,
	// more than three makes the route not advisable.
	HighTierPolicy = Policy{
		Name:           HighTierPolicyName,
		DesignatedTier: defect.High,
		LowerThreshold: 1,
		UpperThreshold: 3,
	}

	// MediumTierPolicy keys on medium severity defects with thresholds 1 and 2.
	MediumTierPolicy = Policy{
		Name:           MediumTierPolicyName,
		DesignatedTier: defect.Medium,
		LowerThreshold: 1,
		UpperThreshold: 2,
	}

	// DefaultPolicy is used when configuration does not choose one
	DefaultPolicy = HighTierPolicy
)

// PolicyByName returns one of the named policies
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HighTierPolicyName:
		return HighTierPolicy, nil
	case MediumTierPolicyName:
		return MediumTierPolicy, nil
	default:
		return Policy{}, fmt.Errorf("unknown advisory policy %q", name)
	}
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if !p.DesignatedTier.Valid() {
		return fmt.Errorf("policy %q: designated tier must be low, medium or high", p.Name)
	}
	if p.LowerThreshold < 0 {
		return fmt.Errorf("policy %q: lower threshold must not be negative", p.Name)
	}
	if p.UpperThreshold < p.LowerThreshold {
		return fmt.Errorf("policy %q: upper threshold %d is below lower threshold %d",
			p.Name, p.UpperThreshold, p.LowerThreshold)
	}
	return nil
}

// Classify maps a designated-tier count to a verdict
func (p Policy) Classify(designatedCount int) Verdict {
	switch {
	case designatedCount > p.UpperThreshold:
		return NotAdvisable
	case designatedCount > p.LowerThreshold:
		return ProceedWithCaution
	default:
		return SafeToTravel
	}
}

// Result is the advisory for one defect set. It is always replaced as a
// whole, never updated in place.
type Result struct {
	TotalCount       int                     `json:"total_count"`
	CountsBySeverity map[defect.Severity]int `json:"counts_by_severity"`
	Verdict          Verdict                 `json:"verdict"`
	Policy           string                  `json:"policy"`
}

// Compute tallies the records and classifies them under the policy. The
// records are trusted to be corridor-filtered already.
func Compute(policy Policy, records []defect.Record) Result {
	counts := make(map[defect.Severity]int, len(defect.Severities))
	for _, s := range defect.Severities {
		counts[s] = 0
	}

	total := 0
	for _, r := range records {
		if !r.Severity.Valid() {
			continue
		}
		counts[r.Severity]++
		total++
	}

	return Result{
		TotalCount:       total,
		CountsBySeverity: counts,
		Verdict:          policy.Classify(counts[policy.DesignatedTier]),
		Policy:           policy.Name,
	}
}

// Empty is the advisory for a route with no defects under the policy
func Empty(policy Policy) Result {
	return Compute(policy, nil)
}
