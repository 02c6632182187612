package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProd
	defaultJWTAlgorithm    = "HS256"
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultCleanupInterval = time.Hour
	defaultLoginRate       = 10
)

var supportedAlgorithms = []string{"HS256", "HS384", "HS512"}

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secrets to sign access and refresh tokens. Must differ
	AccessSecret  string
	RefreshSecret string

	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Environment
	Environment string

	// Keep revoked tokens in Redis instead of database if set
	RedisURL string

	// How often expired revocation entries are deleted from database
	CleanupInterval time.Duration

	// Login attempts per minute per client
	LoginRatePerMinute int

	// Administrator to create on start in form 'email:username:password'
	CreateAdmin string
}

// Administrator account to create or promote on start
// Administrator from --create-admin. Rules are the same as for POST /users/
type AdminSeed struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Password string `json:"password" validate:"required,min=8,max=128,password"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		JWTAlgorithm:       defaultJWTAlgorithm,
		AccessTokenTTL:     defaultAccessTokenTTL,
		RefreshTokenTTL:    defaultRefreshTokenTTL,
		CleanupInterval:    defaultCleanupInterval,
		LoginRatePerMinute: defaultLoginRate,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setMinutes := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = time.Duration(n) * time.Minute
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":                  setString(&c.ListenAddr),
		"DATABASE_URI":                 setString(&c.DatabaseDSN),
		"ACCESS_SECRET_KEY":            setString(&c.AccessSecret),
		"REFRESH_SECRET_KEY":           setString(&c.RefreshSecret),
		"JWT_ALGORITHM":                setString(&c.JWTAlgorithm),
		"ACCESS_TOKEN_EXPIRE_MINUTES":  setMinutes(&c.AccessTokenTTL),
		"REFRESH_TOKEN_EXPIRE_MINUTES": setMinutes(&c.RefreshTokenTTL),
		"LOG_LEVEL":                    setString(&c.LogLevel),
		"ENVIRONMENT":                  setString(&c.Environment),
		"REDIS_URL":                    setString(&c.RedisURL),
		"REVOCATION_CLEANUP_INTERVAL":  setDuration(&c.CleanupInterval),
		"LOGIN_RATE_PER_MINUTE":        setInt(&c.LoginRatePerMinute),
		"CREATE_ADMIN":                 setString(&c.CreateAdmin),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authhub", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Secret key to sign access tokens")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Secret key to sign refresh tokens")
	fs.StringVar(&c.JWTAlgorithm, "jwt-algorithm", c.JWTAlgorithm, "Token signing algorithm (HS256, HS384, HS512)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL to keep revoked tokens in, database is used if empty")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", c.CleanupInterval, "How often expired revocations are deleted")
	fs.IntVar(&c.LoginRatePerMinute, "login-rate", c.LoginRatePerMinute, "Login attempts per minute per client")
	fs.StringVar(&c.CreateAdmin, "create-admin", c.CreateAdmin, "Create administrator on start, 'email:username:password'")

	return fs.Parse(args)
}

// Check required options are set and values are consistent
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		errs = append(errs, errors.New("access and refresh secret keys are required"))
	} else if c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh secret keys must differ"))
	}
	if !slices.Contains(supportedAlgorithms, c.JWTAlgorithm) {
		errs = append(errs, fmt.Errorf("unsupported jwt algorithm %q", c.JWTAlgorithm))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.Environment != logger.EnvDev && c.Environment != logger.EnvProd {
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup interval must be positive"))
	}
	if c.LoginRatePerMinute <= 0 {
		errs = append(errs, errors.New("login rate must be positive"))
	}
	if c.CreateAdmin != "" {
		if _, err := c.AdminSeed(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Parse administrator to create. Password may contain ':'
func (c *Config) AdminSeed() (AdminSeed, error) {
	parts := strings.SplitN(c.CreateAdmin, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return AdminSeed{}, errors.New("create admin option has to be in form 'email:username:password'")
	}

	seed := AdminSeed{Email: parts[0], Username: parts[1], Password: parts[2]}
	if err := render.Check(seed); err != nil {
		return AdminSeed{}, fmt.Errorf("create admin option is not valid: %w", err)
	}

	return seed, nil
}
