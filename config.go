package livestore

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/store"
)

// Config is a structure used for configuring a livestore application.
// It is intended to be mapped by viper, see DefaultViper.
type Config struct {
	Environment Environment `mapstructure:"environment" validate:"required"`

	Store Store `mapstructure:"store"`
	Log   Log   `mapstructure:"log"`
	OTEL  OTEL  `mapstructure:"otel"`
}

const (
	LocalEnv       Environment = "local"
	TestEnv        Environment = "test"
	DevelopmentEnv Environment = "dev"
	ProductionEnv  Environment = "prod"
)

// Environments is the list of all supported environments.
func Environments() []Environment {
	return []Environment{LocalEnv, TestEnv, DevelopmentEnv, ProductionEnv}
}

type Environment string

// MissingRecordPolicy decides what Update and Delete do with a record that does not exist.
type MissingRecordPolicy string

const (
	MissingRecordIgnore MissingRecordPolicy = "ignore"
	MissingRecordError  MissingRecordPolicy = "error"
)

type (
	Store struct {
		Dir              string                  `mapstructure:"dir"                validate:"required"`
		Name             string                  `mapstructure:"name"               validate:"required"`
		FetchBatchSize   int                     `mapstructure:"fetch_batch_size"   validate:"gte=1"`
		BulkDeleteAll    bool                    `mapstructure:"bulk_delete_all"`
		MissingRecord    MissingRecordPolicy     `mapstructure:"missing_record"     validate:"oneof=ignore error"`
		OpenFailure      store.OpenFailurePolicy `mapstructure:"open_failure"       validate:"omitempty,oneof=fatal degrade"`
		WatchExternal    bool                    `mapstructure:"watch_external"`
		ReopenMaxElapsed time.Duration           `mapstructure:"reopen_max_elapsed" validate:"gte=0"`
	}

	Log struct {
		Level string `mapstructure:"level" validate:"required"`
	}

	OTEL struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	}
)

// StoreConfig maps c onto the configuration of a store with the given schema.
// Without an explicit open failure policy, a production store degrades
// while all other environments fail hard.
func (c Config) StoreConfig(schema ...store.EntityDescription) store.Config {
	policy := c.Store.OpenFailure
	if policy == "" {
		policy = store.OpenFailureFatal
		if c.Environment == ProductionEnv {
			policy = store.OpenFailureDegrade
		}
	}

	return store.Config{
		Dir:              c.Store.Dir,
		Name:             c.Store.Name,
		Schema:           schema,
		FetchBatchSize:   c.Store.FetchBatchSize,
		OpenFailure:      policy,
		WatchExternal:    c.Store.WatchExternal,
		ReopenMaxElapsed: c.Store.ReopenMaxElapsed,
	}
}

// RepositoryOptions returns the options matching the store configuration.
func (c Config) RepositoryOptions() []repository.Option {
	opts := []repository.Option{}

	if c.Store.MissingRecord == MissingRecordError {
		opts = append(opts, repository.WithMissingRecordError())
	}

	if c.Store.BulkDeleteAll {
		opts = append(opts, repository.WithBulkDeleteAll())
	}

	return opts
}

func (c Config) LogLevel() (slog.Level, error) {
	level, err := alog.ParseLevel(strings.ToUpper(c.Log.Level))
	if err != nil {
		return level, fmt.Errorf("%w: invalid log level %q", errConfigLoadFailed, c.Log.Level)
	}

	return level, nil
}

// DefaultViper returns a new viper instance with all default values
// from Config set. Every key can be overwritten by an environment variable
// with the prefix LIVESTORE_, e.g. LIVESTORE_STORE_DIR.
func DefaultViper() *Viper {
	vip := viper.New()

	vip.SetEnvPrefix("livestore")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	vip.SetDefault("environment", "local")

	vip.SetDefault("store.dir", ".")
	vip.SetDefault("store.name", "livestore")
	vip.SetDefault("store.fetch_batch_size", 100)
	vip.SetDefault("store.bulk_delete_all", false)
	vip.SetDefault("store.missing_record", "ignore")
	vip.SetDefault("store.open_failure", "")
	vip.SetDefault("store.watch_external", false)
	vip.SetDefault("store.reopen_max_elapsed", "10s")

	vip.SetDefault("log.level", "INFO")

	vip.SetDefault("otel.host", "localhost")
	vip.SetDefault("otel.port", 4317)

	return &Viper{Viper: vip}
}

var errConfigLoadFailed = errors.New("loading configuration failed")

// Viper is a wrapper around viper.Viper for configuration loading.
// The only purpose is to overwrite the Unmarshal method,
// so that the custom types are decoded and the result is validated
// without the developer having to think about it when using DefaultViper.
type Viper struct {
	*viper.Viper
}

// Unmarshal decodes the configuration into rawVal and validates it.
// rawVal can be a *Config or a pointer to a struct embedding Config
// with `mapstructure:",squash"`.
func (vip *Viper) Unmarshal(rawVal any, opts ...viper.DecoderConfigOption) error {
	opts = append([]viper.DecoderConfigOption{viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		allowedEnvironmentHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))}, opts...)

	err := vip.Viper.Unmarshal(rawVal, opts...)
	if err != nil {
		return fmt.Errorf("%w: could not decode configuration into struct: %v", errConfigLoadFailed, err)
	}

	if err := validator.New().Struct(rawVal); err != nil {
		return fmt.Errorf("%w: invalid configuration: %v", errConfigLoadFailed, err)
	}

	return nil
}

func allowedEnvironmentHookFunc() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, t reflect.Type, data any) (interface{}, error) {
		if t != reflect.TypeOf(Environment("")) {
			return data, nil
		}

		env := Environments()
		if s, ok := data.(string); ok && slices.Contains(env, Environment(s)) {
			return data, nil
		}

		e := make([]string, 0, len(env))
		for _, env := range env {
			e = append(e, string(env))
		}

		return data, fmt.Errorf("value is not allowed, use one of: %s", strings.Join(e, ", ")) //nolint:err113,lll // accept dynamic error
	}
}
