// Package plan applies plan-tier limits to submission results.
package plan

import (
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	// VisibilityWindow bounds how far back non-PRO plans can see submissions.
	VisibilityWindow = 30 * 24 * time.Hour
	// FreeSubmissionCap caps the FREE plan after the window is applied.
	FreeSubmissionCap = 20
	// SearchResultCap caps results per query for non-premium plans.
	SearchResultCap = 10
)

// ErrUpgradeRequired signals that the requested feature needs a higher plan.
var ErrUpgradeRequired = errors.New("plan: upgrade required")

// Effective resolves the tier used for gating. The legacy premium flag
// promotes any tier to PRO; unknown tiers are treated as FREE.
func Effective(tier model.PlanTier, isPremium bool) model.PlanTier {
	if isPremium {
		return model.PlanTierPro
	}
	switch tier {
	case model.PlanTierStandard, model.PlanTierPro:
		return tier
	default:
		return model.PlanTierFree
	}
}

// IsPremium reports whether the tier has unrestricted access.
func IsPremium(tier model.PlanTier, isPremium bool) bool {
	return Effective(tier, isPremium) == model.PlanTierPro
}

// CanSearchAllForms reports whether cross-form search is available.
func CanSearchAllForms(tier model.PlanTier) bool {
	return tier == model.PlanTierPro
}

// AuthorizeSearch returns ErrUpgradeRequired for cross-form searches below PRO.
// An empty formID means cross-form.
func AuthorizeSearch(tier model.PlanTier, isPremium bool, formID string) error {
	if formID != "" {
		return nil
	}
	if !CanSearchAllForms(Effective(tier, isPremium)) {
		return ErrUpgradeRequired
	}
	return nil
}

// ApplyPlanLimits filters submissions to what the plan may see. FREE and
// STANDARD see the trailing 30 days; FREE is further capped at 20 in arrival
// order. PRO sees everything.
func ApplyPlanLimits(submissions []model.Submission, tier model.PlanTier, isPremium bool, now time.Time) []model.Submission {
	effectiveTier := Effective(tier, isPremium)
	if effectiveTier == model.PlanTierPro {
		return submissions
	}

	windowStart := now.Add(-VisibilityWindow)
	visible := make([]model.Submission, 0, len(submissions))
	for _, submission := range submissions {
		if submission.CreatedAt.Before(windowStart) {
			continue
		}
		visible = append(visible, submission)
		if effectiveTier == model.PlanTierFree && len(visible) == FreeSubmissionCap {
			break
		}
	}
	return visible
}

// Page is a capped view of search results with the true total kept for
// "N more available" messaging.
type Page struct {
	Visible []model.Submission
	Total   int
	Hidden  int
}

// LimitSearchResults caps non-premium search results at SearchResultCap.
func LimitSearchResults(submissions []model.Submission, tier model.PlanTier, isPremium bool) Page {
	total := len(submissions)
	if IsPremium(tier, isPremium) || total <= SearchResultCap {
		return Page{Visible: submissions, Total: total}
	}
	return Page{
		Visible: submissions[:SearchResultCap],
		Total:   total,
		Hidden:  total - SearchResultCap,
	}
}
