package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	errorMessageCreateAccount = "storage: create account"
	errorMessageFindAccount   = "storage: find account"
	errorMessageUpdatePlan    = "storage: update account plan"
)

var (
	// ErrAccountNotFound indicates no account matched the lookup.
	ErrAccountNotFound = errors.New("storage: account not found")
	// ErrDuplicateAccount indicates the email or API key is already registered.
	ErrDuplicateAccount = errors.New("storage: account already exists")
)

// AccountRepository persists dashboard accounts.
type AccountRepository struct {
	database *gorm.DB
}

func NewAccountRepository(database *gorm.DB) *AccountRepository {
	return &AccountRepository{database: database}
}

// Create stores a new account. Email and API key collisions map to
// ErrDuplicateAccount.
func (repository *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	var existingCount int64
	if countErr := repository.database.WithContext(ctx).
		Model(&model.Account{}).
		Where("email = ? OR api_key = ?", account.Email, account.APIKey).
		Count(&existingCount).Error; countErr != nil {
		return fmt.Errorf("%s: %w", errorMessageCreateAccount, countErr)
	}
	if existingCount > 0 {
		return ErrDuplicateAccount
	}
	createErr := repository.database.WithContext(ctx).Create(account).Error
	if errors.Is(createErr, gorm.ErrDuplicatedKey) {
		return ErrDuplicateAccount
	}
	if createErr != nil {
		return fmt.Errorf("%s: %w", errorMessageCreateAccount, createErr)
	}
	return nil
}

// FindByAPIKey resolves the account that owns apiKey.
func (repository *AccountRepository) FindByAPIKey(ctx context.Context, apiKey string) (model.Account, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return model.Account{}, ErrAccountNotFound
	}
	return repository.first(ctx, "api_key = ?", trimmedKey)
}

func (repository *AccountRepository) FindByID(ctx context.Context, accountID string) (model.Account, error) {
	return repository.first(ctx, "id = ?", accountID)
}

// UpdatePlan changes the stored tier and premium flag.
func (repository *AccountRepository) UpdatePlan(ctx context.Context, accountID string, tier model.PlanTier, premium bool) error {
	result := repository.database.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"plan": string(tier), "premium": premium})
	if result.Error != nil {
		return fmt.Errorf("%s: %w", errorMessageUpdatePlan, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (repository *AccountRepository) first(ctx context.Context, query string, argument any) (model.Account, error) {
	var account model.Account
	findErr := repository.database.WithContext(ctx).Where(query, argument).First(&account).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return model.Account{}, ErrAccountNotFound
	}
	if findErr != nil {
		return model.Account{}, fmt.Errorf("%s: %w", errorMessageFindAccount, findErr)
	}
	return account, nil
}
