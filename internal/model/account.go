package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PlanTier string

const (
	PlanTierFree     PlanTier = "FREE"
	PlanTierStandard PlanTier = "STANDARD"
	PlanTierPro      PlanTier = "PRO"
)

const (
	accountEmailMaxLength  = 320
	accountAPIKeyMaxLength = 128
	accountAPIKeyPrefix    = "mk_"
)

var (
	ErrInvalidAccountEmail  = errors.New("invalid_account_email")
	ErrInvalidAccountPlan   = errors.New("invalid_account_plan")
	ErrInvalidAccountAPIKey = errors.New("invalid_account_api_key")
)

// ParsePlanTier normalizes a plan name. Empty input maps to FREE.
func ParsePlanTier(value string) (PlanTier, error) {
	normalized := PlanTier(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case "":
		return PlanTierFree, nil
	case PlanTierFree, PlanTierStandard, PlanTierPro:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidAccountPlan, value)
	}
}

// Account is a dashboard account and the plan tier that gates its searches.
type Account struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Email     string    `gorm:"not null;size:320;uniqueIndex"`
	APIKey    string    `gorm:"not null;size:128;uniqueIndex"`
	Plan      string    `gorm:"not null;size:16"`
	Premium   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Tier returns the stored plan tier, treating unknown values as FREE.
func (account Account) Tier() PlanTier {
	tier, parseErr := ParsePlanTier(account.Plan)
	if parseErr != nil {
		return PlanTierFree
	}
	return tier
}

// AccountInput holds the raw values used to construct an Account.
type AccountInput struct {
	Email   string
	APIKey  string
	Plan    string
	Premium bool
}

// NewAccount constructs an Account with validated, normalized fields. A missing
// API key is generated.
func NewAccount(input AccountInput) (Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || len(email) > accountEmailMaxLength {
		return Account{}, fmt.Errorf("%w: empty or too long", ErrInvalidAccountEmail)
	}
	if _, parseErr := mail.ParseAddress(email); parseErr != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAccountEmail, parseErr)
	}

	tier, tierErr := ParsePlanTier(input.Plan)
	if tierErr != nil {
		return Account{}, tierErr
	}

	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		apiKey = accountAPIKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(apiKey) > accountAPIKeyMaxLength {
		return Account{}, fmt.Errorf("%w: too long", ErrInvalidAccountAPIKey)
	}

	return Account{
		ID:      uuid.NewString(),
		Email:   email,
		APIKey:  apiKey,
		Plan:    string(tier),
		Premium: input.Premium,
	}, nil
}
