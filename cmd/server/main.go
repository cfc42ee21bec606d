package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mantlz/internal/gateway"
	"github.com/MarkoPoloResearchLab/mantlz/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mantlz/internal/model"
	"github.com/MarkoPoloResearchLab/mantlz/internal/querycache"
	"github.com/MarkoPoloResearchLab/mantlz/internal/storage"
)

const (
	commandUseName                 = "server"
	commandShortDescription        = "Run the Mantlz dashboard gateway"
	commandLongDescription         = "Serve plan-gated submission search and form listings backed by the Mantlz forms API"
	missingConfigurationMessage    = "missing required configuration"
	loggerCreationErrorMessage     = "logger"
	logEventListening              = "listening"
	logEventQueryCache             = "query_cache"
	logFieldAddress                = "addr"
	logFieldStore                  = "store"
	loggerContextOpenAccountStore  = "open_account_store"
	loggerContextServer            = "server"
	readHeaderTimeoutSeconds       = 5
	unexpectedArgumentsMessage     = "unexpected command arguments"
	commandInitializationFailure   = "failed to configure command"
	flagNotDefinedMessage          = "flag %s not defined"
	environmentConfigurationError  = "failed to apply environment configuration"
	sessionSecretTooShortMessage   = "session secret must be at least 32 bytes"
	minimumSessionSecretLength     = 32
	queryCacheStoreMemory          = "memory"
	queryCacheStoreRedis           = "redis"
	defaultApplicationAddress      = ":8080"
	defaultDatabaseDriverName      = storage.DriverNameSQLite
	defaultDashboardOrigin         = "http://localhost:8080"
	flagNameApplicationAddress     = "app-addr"
	flagNameDatabaseDriverName     = "db-driver"
	flagNameDatabaseDataSourceName = "db-dsn"
	flagNameAdminBearerToken       = "admin-bearer-token"
	flagNameBackendBaseURL         = "backend-base-url"
	flagNameBackendAPIKey          = "backend-api-key"
	flagNameRedisURL               = "redis-url"
	flagNameSessionSecret          = "session-secret"
	flagNameDashboardOrigin        = "dashboard-origin"
	flagNameSecureCookies          = "secure-cookies"
	environmentKeyApplicationAddr  = "APP_ADDR"
	environmentKeyDatabaseDriver   = "DB_DRIVER"
	environmentKeyDatabaseDSN      = "DB_DSN"
	environmentKeyAdminBearerToken = "ADMIN_BEARER_TOKEN"
	environmentKeyBackendBaseURL   = "BACKEND_BASE_URL"
	environmentKeyBackendAPIKey    = "BACKEND_API_KEY"
	environmentKeyRedisURL         = "REDIS_URL"
	environmentKeySessionSecret    = "SESSION_SECRET"
	environmentKeyDashboardOrigin  = "DASHBOARD_ORIGIN"
	environmentKeySecureCookies    = "SECURE_COOKIES"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriverName     string
	DatabaseDataSourceName string
	AdminBearerToken       string
	BackendBaseURL         string
	BackendAPIKey          string
	RedisURL               string
	SessionSecret          string
	DashboardOrigin        string
	SecureCookies          bool
}

// AccountStoreOpener opens and migrates the dashboard account store.
type AccountStoreOpener func(storage.Config) (*storage.AccountStore, error)

type configurationFlag struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
	required       bool
}

var configurationFlags = []configurationFlag{
	{environmentKey: environmentKeyApplicationAddr, flagName: flagNameApplicationAddress, defaultValue: defaultApplicationAddress, usage: "address for the HTTP server to listen on"},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriverName, defaultValue: defaultDatabaseDriverName, usage: "database driver used for dashboard accounts"},
	{environmentKey: environmentKeyDatabaseDSN, flagName: flagNameDatabaseDataSourceName, usage: "database connection string", required: true},
	{environmentKey: environmentKeyAdminBearerToken, flagName: flagNameAdminBearerToken, usage: "bearer token required for admin API access (admin API disabled when empty)"},
	{environmentKey: environmentKeyBackendBaseURL, flagName: flagNameBackendBaseURL, usage: "base URL of the Mantlz forms API", required: true},
	{environmentKey: environmentKeyBackendAPIKey, flagName: flagNameBackendAPIKey, usage: "service API key for the Mantlz forms API", required: true},
	{environmentKey: environmentKeyRedisURL, flagName: flagNameRedisURL, usage: "Redis URL for the shared forms cache (in-memory when empty)"},
	{environmentKey: environmentKeySessionSecret, flagName: flagNameSessionSecret, usage: "secret used to sign dashboard session cookies", required: true},
	{environmentKey: environmentKeyDashboardOrigin, flagName: flagNameDashboardOrigin, defaultValue: defaultDashboardOrigin, usage: "origin allowed to call the dashboard API with credentials"},
	{environmentKey: environmentKeySecureCookies, flagName: flagNameSecureCookies, defaultValue: "false", usage: "mark session cookies as Secure"},
}

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	accountStoreOpener  AccountStoreOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		accountStoreOpener:  storage.OpenAccountStore,
	}
}

// WithAccountStoreOpener overrides the account store opener dependency.
func (application *ServerApplication) WithAccountStoreOpener(accountStoreOpener AccountStoreOpener) *ServerApplication {
	application.accountStoreOpener = accountStoreOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	commandFlags := command.Flags()
	for _, definition := range configurationFlags {
		application.configurationLoader.SetDefault(definition.environmentKey, definition.defaultValue)
		if definition.flagName == flagNameSecureCookies {
			commandFlags.Bool(definition.flagName, false, definition.usage)
		} else {
			commandFlags.String(definition.flagName, definition.defaultValue, definition.usage)
		}
	}
	application.configurationLoader.AutomaticEnv()

	for _, definition := range configurationFlags {
		if bindErr := application.bindFlag(commandFlags, definition.environmentKey, definition.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, definition.environmentKey, definition.flagName); environmentErr != nil {
			return environmentErr
		}
		if definition.required {
			if markErr := command.MarkFlagRequired(definition.flagName); markErr != nil {
				return markErr
			}
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	loader := application.configurationLoader
	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(loader.GetString(environmentKeyApplicationAddr)),
		DatabaseDriverName:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		AdminBearerToken:       strings.TrimSpace(loader.GetString(environmentKeyAdminBearerToken)),
		BackendBaseURL:         strings.TrimSpace(loader.GetString(environmentKeyBackendBaseURL)),
		BackendAPIKey:          strings.TrimSpace(loader.GetString(environmentKeyBackendAPIKey)),
		RedisURL:               strings.TrimSpace(loader.GetString(environmentKeyRedisURL)),
		SessionSecret:          loader.GetString(environmentKeySessionSecret),
		DashboardOrigin:        strings.TrimSpace(loader.GetString(environmentKeyDashboardOrigin)),
		SecureCookies:          loader.GetBool(environmentKeySecureCookies),
	}
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accountStore, storeErr := application.accountStoreOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if storeErr != nil {
		logger.Fatal(loggerContextOpenAccountStore, zap.Error(storeErr))
	}
	defer func() {
		_ = accountStore.Close()
	}()

	router, closeRouter, routerErr := buildRouter(serverConfig, accountStore.Accounts, logger)
	if routerErr != nil {
		return routerErr
	}
	defer closeRouter()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSourceName)
	}

	if configuration.BackendBaseURL == "" {
		missingParameters = append(missingParameters, flagNameBackendBaseURL)
	}

	if configuration.BackendAPIKey == "" {
		missingParameters = append(missingParameters, flagNameBackendAPIKey)
	}

	if strings.TrimSpace(configuration.SessionSecret) == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if len(missingParameters) > 0 {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
	}

	if len(configuration.SessionSecret) < minimumSessionSecretLength {
		return fmt.Errorf("%s: %s", flagNameSessionSecret, sessionSecretTooShortMessage)
	}

	return nil
}

// newFormsCache selects the shared Redis store when configured and the
// in-process store otherwise. The returned func releases the store.
func newFormsCache(redisURL string, logger *zap.Logger) (*querycache.Cache, func(), error) {
	if redisURL == "" {
		logger.Info(logEventQueryCache, zap.String(logFieldStore, queryCacheStoreMemory))
		return querycache.New(querycache.NewMemoryStore(querycache.DefaultTTL), logger), func() {}, nil
	}
	redisStore, storeErr := querycache.NewRedisStore(redisURL, querycache.DefaultTTL)
	if storeErr != nil {
		return nil, nil, fmt.Errorf("%s: %w", logEventQueryCache, storeErr)
	}
	logger.Info(logEventQueryCache, zap.String(logFieldStore, queryCacheStoreRedis))
	return querycache.New(redisStore, logger), func() {
		_ = redisStore.Close()
	}, nil
}

// newBackendProvider binds the service gateway client to each account's key.
func newBackendProvider(client *gateway.Client) httpapi.BackendProvider {
	return func(account model.Account) httpapi.Backend {
		return client.WithAPIKey(account.APIKey)
	}
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
