package testutil_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
	"github.com/MarkoPoloResearchLab/mantlz/internal/testutil"
)

func TestNewAccountStoresAreIsolated(testingT *testing.T) {
	firstStore := testutil.NewAccountStore(testingT)
	secondStore := testutil.NewAccountStore(testingT)

	account := testutil.CreateAccount(testingT, firstStore, model.AccountInput{Email: "owner@example.com", Plan: "pro"})

	found, findErr := firstStore.Accounts.FindByAPIKey(context.Background(), account.APIKey)
	require.NoError(testingT, findErr)
	require.Equal(testingT, model.PlanTierPro, found.Tier())

	_, missingErr := secondStore.Accounts.FindByAPIKey(context.Background(), account.APIKey)
	require.ErrorIs(testingT, missingErr, storage.ErrAccountNotFound)
}

func TestAccountStoreConfigUsesPrivateInMemoryDatabase(testingT *testing.T) {
	firstConfig := testutil.AccountStoreConfig(testingT)
	secondConfig := testutil.AccountStoreConfig(testingT)

	require.Equal(testingT, storage.DriverNameSQLite, firstConfig.DriverName)
	require.Contains(testingT, firstConfig.DataSourceName, "mode=memory")
	require.NotEqual(testingT, firstConfig.DataSourceName, secondConfig.DataSourceName)
	require.NotNil(testingT, firstConfig.Logger)
}
