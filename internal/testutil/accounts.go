// Package testutil opens throwaway account stores for package tests.
package testutil

import (
	"context"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

const accountStoreDataSourcePattern = "file:mantlz-accounts-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)"

type testingLogWriter struct {
	testingT *testing.T
}

func (writer testingLogWriter) Write(data []byte) (int, error) {
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		writer.testingT.Log(trimmed)
	}
	return len(data), nil
}

// AccountStoreConfig points at a fresh in-memory accounts database private to
// the calling test. gorm errors go to the test log; missing accounts do not.
func AccountStoreConfig(testingT *testing.T) storage.Config {
	testingT.Helper()
	return storage.Config{
		DriverName:     storage.DriverNameSQLite,
		DataSourceName: fmt.Sprintf(accountStoreDataSourcePattern, uuid.NewString()),
		Logger: gormlogger.New(
			log.New(testingLogWriter{testingT: testingT}, "", 0),
			gormlogger.Config{IgnoreRecordNotFoundError: true, LogLevel: gormlogger.Error},
		),
	}
}

// NewAccountStore opens a migrated account store that is closed when the test
// ends.
func NewAccountStore(testingT *testing.T) *storage.AccountStore {
	testingT.Helper()
	store, openErr := storage.OpenAccountStore(AccountStoreConfig(testingT))
	require.NoError(testingT, openErr)
	testingT.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// CreateAccount validates input and stores the resulting account.
func CreateAccount(testingT *testing.T, store *storage.AccountStore, input model.AccountInput) model.Account {
	testingT.Helper()
	account, accountErr := model.NewAccount(input)
	require.NoError(testingT, accountErr)
	require.NoError(testingT, store.Accounts.Create(context.Background(), &account))
	return account
}
