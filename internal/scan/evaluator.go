package scan

import (
	"strings"

	"github.com/Spok95/school-attendance/internal/models"
)

// Eligibility is the outcome of the pure service check: either a denial with
// a reason, or a grant with zero or more warnings for the operator.
type Eligibility struct {
	Granted    bool
	DenyReason models.DenyReason
	Warnings   []models.Warning
}

// EvaluateEligibility decides whether an enrollment admits the student to the
// service. Rules apply in priority order, first denial wins; warnings
// accumulate on a grant. The function performs no I/O.
func EvaluateEligibility(enr *models.ServiceEnrollment) Eligibility {
	if enr == nil || !enr.Enrolled {
		return Eligibility{DenyReason: models.DenyNotEnrolled}
	}
	if enr.Payment == models.PaymentExpired {
		return Eligibility{DenyReason: models.DenySubscriptionExpired}
	}

	out := Eligibility{Granted: true}
	if enr.Payment == models.PaymentPending {
		out.Warnings = append(out.Warnings, models.Warning{Code: models.WarnPaymentPending})
	}
	if enr.Service == models.ServiceLunch && enr.Lunch != nil && enr.Lunch.Diet == models.DietSpecial {
		out.Warnings = append(out.Warnings, models.Warning{
			Code:   models.WarnSpecialDiet,
			Detail: dietNotice(enr.Lunch),
		})
	}
	return out
}

func dietNotice(l *models.LunchDetails) string {
	var parts []string
	if strings.TrimSpace(l.Requirements) != "" {
		parts = append(parts, l.Requirements)
	}
	if len(l.Allergies) > 0 {
		parts = append(parts, "allergies: "+strings.Join(l.Allergies, ", "))
	}
	if len(parts) == 0 {
		return "special diet"
	}
	return strings.Join(parts, "; ")
}
