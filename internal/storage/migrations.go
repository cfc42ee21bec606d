package storage

import (
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

// normalizeAccountPlans upper-cases stored plan names and resets anything
// outside the known tiers to FREE.
func normalizeAccountPlans(database *gorm.DB) error {
	if err := database.Model(&model.Account{}).
		Where("plan <> UPPER(TRIM(plan))").
		Update("plan", gorm.Expr("UPPER(TRIM(plan))")).Error; err != nil {
		return err
	}

	knownTiers := []string{string(model.PlanTierFree), string(model.PlanTierStandard), string(model.PlanTierPro)}
	return database.Model(&model.Account{}).
		Where("plan IS NULL OR plan NOT IN ?", knownTiers).
		Update("plan", string(model.PlanTierFree)).Error
}
