package server

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/bulletin/board/models"
)

// keys to access env variables
const (
	portEnvKey              string = "port"
	databaseURLEnvKey       string = "database_url"
	dbSSLRequireEnvKey      string = "db_ssl_require"
	dataFileEnvKey          string = "data_file"
	uploadDirEnvKey         string = "upload_dir"
	staticDirEnvKey         string = "static_dir"
	maxUploadSizeEnvKey     string = "max_upload_size"
	maxUploadFilesEnvKey    string = "max_upload_files"
	maxNewColumnsEnvKey     string = "max_new_columns"
	maxDynamicColumnsEnvKey string = "max_dynamic_columns"
	redisAddrEnvKey         string = "redis_addr"
	redisPasswordEnvKey     string = "redis_password"
	cacheTTLEnvKey          string = "cache_ttl_minutes"
	jwtSecretEnvKey         string = "jwt_secret_key"
	adminUsernameEnvKey     string = "admin_username"
	adminPasswordHashEnvKey string = "admin_password_hash"
	authEnforcedEnvKey      string = "auth_enforced"
	requestTimeoutEnvKey    string = "request_timeout_seconds"
	goEnvEnvKey             string = "goenv"
	logLevelEnvKey          string = "log_level"

	// usersConfigKey - list of author accounts, only read from the config file
	usersConfigKey string = "users"
)

// Config - server settings
type Config struct {
	Port              string
	DatabaseURL       string
	DBSSLRequire      bool
	DataFile          string
	UploadDir         string
	StaticDir         string
	MaxUploadSize     int64
	MaxUploadFiles    int
	MaxNewColumns     int
	MaxDynamicColumns int
	RedisAddr         string
	RedisPassword     string
	CacheTTL          time.Duration
	JWTSecret         string
	AuthEnforced      bool
	RequestTimeout    time.Duration
	Production        bool
	LogLevel          string
	Accounts          []models.Account
}

// MaxBodySize - upper bound of a post request body: every file at its limit plus room for form fields
func (c *Config) MaxBodySize() int64 {
	return c.MaxUploadSize*int64(c.MaxUploadFiles) + 1<<20
}

// LoadConfig - reads settings from env variables and, when configPath is not empty, a config file.
// Env variables win over the file
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault(portEnvKey, "3000")
	v.SetDefault(dataFileEnvKey, "data.json")
	v.SetDefault(uploadDirEnvKey, "uploads")
	v.SetDefault(staticDirEnvKey, "public")
	v.SetDefault(maxUploadSizeEnvKey, 100<<20)
	v.SetDefault(maxUploadFilesEnvKey, 10)
	v.SetDefault(maxNewColumnsEnvKey, 10)
	v.SetDefault(maxDynamicColumnsEnvKey, 100)
	v.SetDefault(cacheTTLEnvKey, 5)
	v.SetDefault(requestTimeoutEnvKey, 60)
	v.SetDefault(logLevelEnvKey, "info")

	// bind env variables. Access them by the same key
	_ = v.BindEnv(portEnvKey, "PORT")
	_ = v.BindEnv(databaseURLEnvKey, "DATABASE_URL")
	_ = v.BindEnv(dbSSLRequireEnvKey, "DB_SSL_REQUIRE")
	_ = v.BindEnv(dataFileEnvKey, "DATA_FILE")
	_ = v.BindEnv(uploadDirEnvKey, "UPLOAD_DIR")
	_ = v.BindEnv(staticDirEnvKey, "STATIC_DIR")
	_ = v.BindEnv(maxUploadSizeEnvKey, "MAX_UPLOAD_SIZE")
	_ = v.BindEnv(maxUploadFilesEnvKey, "MAX_UPLOAD_FILES")
	_ = v.BindEnv(maxNewColumnsEnvKey, "MAX_NEW_COLUMNS")
	_ = v.BindEnv(maxDynamicColumnsEnvKey, "MAX_DYNAMIC_COLUMNS")
	_ = v.BindEnv(redisAddrEnvKey, "REDIS_ADDR")
	_ = v.BindEnv(redisPasswordEnvKey, "REDIS_PASSWORD")
	_ = v.BindEnv(cacheTTLEnvKey, "CACHE_TTL_MINUTES")
	_ = v.BindEnv(jwtSecretEnvKey, "JWT_SECRET_KEY")
	_ = v.BindEnv(adminUsernameEnvKey, "ADMIN_USERNAME")
	_ = v.BindEnv(adminPasswordHashEnvKey, "ADMIN_PASSWORD_HASH")
	_ = v.BindEnv(authEnforcedEnvKey, "AUTH_ENFORCED")
	_ = v.BindEnv(requestTimeoutEnvKey, "REQUEST_TIMEOUT_SECONDS")
	_ = v.BindEnv(goEnvEnvKey, "GOENV")
	_ = v.BindEnv(logLevelEnvKey, "LOG_LEVEL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config file %s", configPath)
		}
	}

	config := &Config{
		Port:              v.GetString(portEnvKey),
		DatabaseURL:       v.GetString(databaseURLEnvKey),
		DBSSLRequire:      v.GetBool(dbSSLRequireEnvKey),
		DataFile:          v.GetString(dataFileEnvKey),
		UploadDir:         v.GetString(uploadDirEnvKey),
		StaticDir:         v.GetString(staticDirEnvKey),
		MaxUploadSize:     v.GetInt64(maxUploadSizeEnvKey),
		MaxUploadFiles:    v.GetInt(maxUploadFilesEnvKey),
		MaxNewColumns:     v.GetInt(maxNewColumnsEnvKey),
		MaxDynamicColumns: v.GetInt(maxDynamicColumnsEnvKey),
		RedisAddr:         v.GetString(redisAddrEnvKey),
		RedisPassword:     v.GetString(redisPasswordEnvKey),
		CacheTTL:          time.Duration(v.GetInt(cacheTTLEnvKey)) * time.Minute,
		JWTSecret:         v.GetString(jwtSecretEnvKey),
		AuthEnforced:      v.GetBool(authEnforcedEnvKey),
		RequestTimeout:    time.Duration(v.GetInt(requestTimeoutEnvKey)) * time.Second,
		Production:        v.GetString(goEnvEnvKey) == "production",
		LogLevel:          v.GetString(logLevelEnvKey),
	}

	if err := v.UnmarshalKey(usersConfigKey, &config.Accounts); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling users list")
	}
	if username := v.GetString(adminUsernameEnvKey); username != "" {
		config.Accounts = append(config.Accounts, models.Account{
			Username:     username,
			PasswordHash: v.GetString(adminPasswordHashEnvKey),
			Role:         models.RoleAdmin,
		})
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.MaxUploadSize <= 0 {
		return errors.Errorf("max upload size must be positive, got %d", c.MaxUploadSize)
	}
	if c.MaxUploadFiles <= 0 {
		return errors.Errorf("max upload files must be positive, got %d", c.MaxUploadFiles)
	}
	if c.MaxNewColumns <= 0 || c.MaxDynamicColumns < c.MaxNewColumns {
		return errors.Errorf("invalid column limits: %d new, %d total", c.MaxNewColumns, c.MaxDynamicColumns)
	}
	if c.RequestTimeout <= 0 {
		return errors.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if (c.AuthEnforced || len(c.Accounts) > 0) && c.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY is required when accounts are configured or auth is enforced")
	}
	return nil
}
