package config

import (
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Store struct {
		Driver string // postgres|sqlite
	} `mapstructure:"store"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	SQLite struct {
		Path string
	} `mapstructure:"sqlite"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Log struct {
		File string
	} `mapstructure:"log"`

	Pricing struct {
		TaxRatePercent float64 `mapstructure:"tax_rate_percent"`
	} `mapstructure:"pricing"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads the YAML file; any key can be overridden with APP_<SECTION>_<KEY>,
// e.g. APP_POSTGRES_DSN. A .env in the working directory is loaded first.
func Load(path string) (Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "prod")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("sqlite.path", "data/rates.db")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("pricing.tax_rate_percent", 10)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	return c, nil
}
