package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/bookshop/internal/notify"
	"github.com/xenking/bookshop/internal/upload"
	"github.com/xenking/bookshop/pkg/httpmiddleware"
)

const (
	defaultAddr     = "0.0.0.0:8080"
	minPepperLength = 16
)

// Config holds the application configuration, loadable from environment
// variables (BOOKSHOP_ prefix), flags, a .env file or YAML config files.
type Config struct {
	Addr          string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string        `usage:"PostgreSQL connection URL (BOOKSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SessionPepper string        `usage:"HMAC pepper for session token hashing" flag:"session-pepper"`
	SessionTTL    time.Duration `default:"168h" usage:"Session lifetime" flag:"session-ttl"`
	SessionSweep  time.Duration `default:"1h" usage:"Interval for deleting expired sessions" flag:"session-sweep"`
	SecureCookies bool          `default:"false" usage:"Mark the session cookie Secure" flag:"secure-cookies"`
	LoginAttempts int           `default:"10" usage:"Login and register attempts per minute per client" flag:"login-attempts"`

	Upload    upload.Config
	SMTP      notify.SMTPConfig
	Events    notify.Config
	RateLimit httpmiddleware.RateLimitConfig
	CORS      httpmiddleware.CORSConfig
	Graceful  GracefulConfig
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig reads .env, then environment, flags and YAML files.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKSHOP",
		Files:     []string{"config.yaml", "/etc/bookshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps DATABASE_URL and PORT, as set by hosting
// platforms, onto the BOOKSHOP_ settings.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set BOOKSHOP_DATABASE_URL or DATABASE_URL")
	case len(c.SessionPepper) < minPepperLength:
		return errors.Errorf("session pepper must be at least %d bytes: set BOOKSHOP_SESSION_PEPPER", minPepperLength)
	case c.SessionTTL <= 0:
		return errors.New("session TTL must be positive")
	}
	return nil
}
