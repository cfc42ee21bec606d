package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
)

const (
	// DriverNameSQLite is the only driver dashboard accounts are stored with.
	DriverNameSQLite = "sqlite"

	errorMessageOpenAccountStore    = "storage: open account store"
	errorMessageMigrateAccountStore = "storage: migrate account store"
	errorMessageCloseAccountStore   = "storage: close account store"
)

var (
	ErrMissingDatabaseDriverName = errors.New("storage: missing database driver name")
	ErrUnsupportedDatabaseDriver = errors.New("storage: unsupported database driver")
	ErrMissingDataSourceName     = errors.New("storage: missing database data source name")
)

// Config locates the accounts database. Logger replaces gorm's default
// logger when set.
type Config struct {
	DriverName     string
	DataSourceName string
	Logger         gormlogger.Interface
}

// AccountStore is an opened, migrated accounts database with its repository.
type AccountStore struct {
	Database *gorm.DB
	Accounts *AccountRepository
}

// OpenAccountStore opens the accounts database, migrates the account schema
// and rewrites stored plans onto the known tiers before handing out the
// repository.
func OpenAccountStore(configuration Config) (*AccountStore, error) {
	driverName := strings.ToLower(strings.TrimSpace(configuration.DriverName))
	dataSourceName := strings.TrimSpace(configuration.DataSourceName)
	switch {
	case driverName == "":
		return nil, ErrMissingDatabaseDriverName
	case driverName != DriverNameSQLite:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDatabaseDriver, driverName)
	case dataSourceName == "":
		return nil, ErrMissingDataSourceName
	}

	gormConfig := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
	if configuration.Logger != nil {
		gormConfig.Logger = configuration.Logger
	}
	database, openErr := gorm.Open(sqlite.Open(dataSourceName), gormConfig)
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenAccountStore, openErr)
	}

	if migrateErr := AutoMigrate(database); migrateErr != nil {
		if sqlDatabase, sqlErr := database.DB(); sqlErr == nil {
			_ = sqlDatabase.Close()
		}
		return nil, migrateErr
	}

	return &AccountStore{Database: database, Accounts: NewAccountRepository(database)}, nil
}

// Close releases the underlying connection pool.
func (store *AccountStore) Close() error {
	sqlDatabase, sqlErr := store.Database.DB()
	if sqlErr != nil {
		return fmt.Errorf("%s: %w", errorMessageCloseAccountStore, sqlErr)
	}
	return sqlDatabase.Close()
}

// AutoMigrate creates the accounts table and normalizes stored plans.
func AutoMigrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&model.Account{}); err != nil {
		return fmt.Errorf("%s: %w", errorMessageMigrateAccountStore, err)
	}
	if err := normalizeAccountPlans(database); err != nil {
		return fmt.Errorf("%s: %w", errorMessageMigrateAccountStore, err)
	}
	return nil
}
