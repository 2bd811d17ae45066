// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
	redisLiveKit "github.com/livekit/protocol/redis"
)

type (
	DirectoryKind string
	AdmissionMode string
)

const (
	generatedCLIFlagUsage = "generated"
	envPrefix             = "QUALITY_"

	DirectoryKindStatic   DirectoryKind = "static"
	DirectoryKindPostgres DirectoryKind = "postgres"

	// AdmissionBestEffort checks the session count and records the session in
	// two separate store operations; concurrent requests may both pass.
	AdmissionBestEffort AdmissionMode = "best_effort"
	// AdmissionAtomic checks and records in a single conditional store write.
	AdmissionAtomic AdmissionMode = "atomic"
)

type Config struct {
	Port           uint32          `yaml:"port,omitempty" validate:"required"`
	BindAddresses  []string        `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32          `yaml:"prometheus_port,omitempty"`
	Redis          RedisConfig     `yaml:"redis,omitempty"`
	Directory      DirectoryConfig `yaml:"directory,omitempty"`
	Quality        QualityConfig   `yaml:"quality,omitempty"`
	Breaker        BreakerConfig   `yaml:"breaker,omitempty"`
	Logging        LoggingConfig   `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type RedisConfig struct {
	redisLiveKit.RedisConfig `yaml:",inline"`
	// how long to keep retrying the initial connection
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

type DirectoryConfig struct {
	Kind DirectoryKind `yaml:"kind,omitempty" validate:"oneof=static postgres"`
	// tier assumed for users the directory does not know
	DefaultTier string `yaml:"default_tier,omitempty"`
	// static user_id => tier assignments
	Users       map[string]string `yaml:"users,omitempty"`
	PostgresDSN string            `yaml:"postgres_dsn,omitempty" validate:"required_if=Kind postgres"`
	Query       string            `yaml:"query,omitempty"`
	// 0 disables caching
	CacheSize int           `yaml:"cache_size,omitempty" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl,omitempty"`
}

type QualityConfig struct {
	Admission       AdmissionMode `yaml:"admission,omitempty" validate:"oneof=best_effort atomic"`
	SessionTTL      time.Duration `yaml:"session_ttl,omitempty" validate:"gt=0"`
	MetricTTL       time.Duration `yaml:"metric_ttl,omitempty" validate:"gt=0"`
	OptimizationTTL time.Duration `yaml:"optimization_ttl,omitempty" validate:"gt=0"`
	SampleWindow    int           `yaml:"sample_window,omitempty" validate:"gte=1"`
}

type BreakerConfig struct {
	// requests allowed through while half-open
	MaxRequests uint32 `yaml:"max_requests,omitempty"`
	// closed-state window after which failure counts reset
	Interval time.Duration `yaml:"interval,omitempty"`
	// time spent open before probing again
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty" validate:"gte=1"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

var DefaultConfig = Config{
	Port: 8080,
	Redis: RedisConfig{
		ConnectTimeout: 10 * time.Second,
	},
	Directory: DirectoryConfig{
		Kind:        DirectoryKindStatic,
		DefaultTier: "bronze",
		Query:       "SELECT subscription_tier FROM users WHERE user_id = $1",
		CacheSize:   10_000,
		CacheTTL:    5 * time.Minute,
	},
	Quality: QualityConfig{
		Admission:       AdmissionBestEffort,
		SessionTTL:      24 * time.Hour,
		MetricTTL:       7 * 24 * time.Hour,
		OptimizationTTL: 30 * 24 * time.Hour,
		SampleWindow:    10,
	},
	Breaker: BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	},
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	// expand env vars and home in the DSN, which may point to a socket path
	dsn, err := homedir.Expand(os.ExpandEnv(conf.Directory.PostgresDSN))
	if err != nil {
		return nil, err
	}
	conf.Directory.PostgresDSN = dsn

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (conf *Config) Validate() error {
	if err := getValidator().Struct(conf); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := envPrefix + strings.ToUpper(strings.Replace(name, ".", "_", -1))

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:   name,
				Usage:  generatedCLIFlagUsage,
				Hidden: hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map:
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Redis.Password = c.String("redis-password")
	}
	if c.IsSet("postgres-dsn") {
		conf.Directory.Kind = DirectoryKindPostgres
		conf.Directory.PostgresDSN = c.String("postgres-dsn")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	return nil
}

func InitLoggerFromConfig(conf *Config) {
	logger.InitFromConfig(conf.Logging.Config, "quality")
}
