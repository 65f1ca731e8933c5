// Package config loads process settings from an optional YAML file with
// environment overrides.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"spotex/domain/catalog"
)

type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogJSON     bool   `mapstructure:"LOG_JSON"`
	GRPCAddr    string `mapstructure:"GRPC_ADDR"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	DataDir     string `mapstructure:"DATA_DIR"`

	InboxSize      int           `mapstructure:"INBOX_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	StackUpdatePeriod time.Duration `mapstructure:"STACK_UPDATE_PERIOD"`
	StackDownTimeout  time.Duration `mapstructure:"STACK_DOWN_TIMEOUT"`
	StackDownMulti    float64       `mapstructure:"STACK_DOWN_MULTI"`
	StackExportLimit  int           `mapstructure:"STACK_EXPORT_LIMIT"`
	StackCancelCache  time.Duration `mapstructure:"STACK_CANCEL_CACHE"`

	MinCostOrderCancel      string        `mapstructure:"MIN_COST_ORDER_CANCEL"`
	MinFee                  string        `mapstructure:"MIN_FEE"`
	DefaultFeeRate          string        `mapstructure:"DEFAULT_FEE_RATE"`
	FeeUserID               uint64        `mapstructure:"FEE_USER_ID"`
	OrderDeleteAttemptCache time.Duration `mapstructure:"ORDER_DELETE_ATTEMPT_CACHE"`
	PlaceOrderDelay         time.Duration `mapstructure:"PLACE_ORDER_DELAY"`

	OTCPercentLimit                 string        `mapstructure:"OTC_PERCENT_LIMIT"`
	OTCUpdatePeriod                 time.Duration `mapstructure:"OTC_UPDATE_PERIOD"`
	ExchangeLimitPercentage         string        `mapstructure:"EXCHANGE_LIMIT_PERCENTAGE"`
	ExternalPricesDeviationPercents string        `mapstructure:"EXTERNAL_PRICES_DEVIATION_PERCENTS"`
	CryptocompareDeviationPercents  string        `mapstructure:"CRYPTOCOMPARE_DEVIATION_PERCENTS"`
	PriceCacheTTL                   time.Duration `mapstructure:"PRICE_CACHE_TTL"`

	RedisAddr          string        `mapstructure:"REDIS_ADDR"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	KafkaEventsTopic   string        `mapstructure:"KAFKA_EVENTS_TOPIC"`
	KafkaSnapshotTopic string        `mapstructure:"KAFKA_SNAPSHOT_TOPIC"`
	BroadcastInterval  time.Duration `mapstructure:"BROADCAST_INTERVAL"`

	JournalSegmentSize int64         `mapstructure:"JOURNAL_SEGMENT_SIZE"`
	JournalRetain      time.Duration `mapstructure:"JOURNAL_RETAIN"`

	AutoOrdersDisabledUsers string `mapstructure:"AUTO_ORDERS_DISABLED_USERS"`

	Currencies []CurrencyConfig  `mapstructure:"currencies"`
	Pairs      []PairConfig      `mapstructure:"pairs"`
	FeeRates   map[string]string `mapstructure:"fee_rates"`
}

type CurrencyConfig struct {
	Code            string `mapstructure:"code"`
	Scale           int32  `mapstructure:"scale"`
	StackEnabled    bool   `mapstructure:"stack_enabled"`
	ExchangeEnabled bool   `mapstructure:"exchange_enabled"`
}

type PairConfig struct {
	Base              string   `mapstructure:"base"`
	Quote             string   `mapstructure:"quote"`
	PriceStep         string   `mapstructure:"price_step"`
	QuantityStep      string   `mapstructure:"quantity_step"`
	MinOrderCost      string   `mapstructure:"min_order_cost"`
	MaxOrderCost      string   `mapstructure:"max_order_cost"`
	Deviation         string   `mapstructure:"deviation"`
	Enabled           bool     `mapstructure:"enabled"`
	CustomPrice       string   `mapstructure:"custom_price"`
	AutoOrdersEnabled bool     `mapstructure:"auto_orders_enabled"`
	Precisions        []string `mapstructure:"precisions"`
}

var defaults = map[string]any{
	"LOG_LEVEL":    "info",
	"LOG_JSON":     true,
	"GRPC_ADDR":    ":50051",
	"METRICS_ADDR": ":9090",
	"DATA_DIR":     "./data",

	"INBOX_SIZE":      4096,
	"REQUEST_TIMEOUT": "5s",

	"STACK_UPDATE_PERIOD": "1s",
	"STACK_DOWN_TIMEOUT":  "30s",
	"STACK_DOWN_MULTI":    2.0,
	"STACK_EXPORT_LIMIT":  50,
	"STACK_CANCEL_CACHE":  "60s",

	"MIN_COST_ORDER_CANCEL":      "0.0000001",
	"MIN_FEE":                    "0.00000001",
	"DEFAULT_FEE_RATE":           "0.002",
	"FEE_USER_ID":                0,
	"ORDER_DELETE_ATTEMPT_CACHE": "120s",
	"PLACE_ORDER_DELAY":          "2s",

	"OTC_PERCENT_LIMIT":                  "10",
	"OTC_UPDATE_PERIOD":                  "10s",
	"EXCHANGE_LIMIT_PERCENTAGE":          "5",
	"EXTERNAL_PRICES_DEVIATION_PERCENTS": "3",
	"CRYPTOCOMPARE_DEVIATION_PERCENTS":   "5",
	"PRICE_CACHE_TTL":                    "30s",

	"REDIS_ADDR":           "",
	"KAFKA_BROKERS":        "",
	"KAFKA_EVENTS_TOPIC":   "spotex.events",
	"KAFKA_SNAPSHOT_TOPIC": "spotex.books",
	"BROADCAST_INTERVAL":   "250ms",

	"JOURNAL_SEGMENT_SIZE": 64 << 20,
	"JOURNAL_RETAIN":       "24h",

	"AUTO_ORDERS_DISABLED_USERS": "",
}

// Load reads path, if non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.InboxSize <= 0 {
		return fmt.Errorf("config: INBOX_SIZE must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: REQUEST_TIMEOUT must be positive")
	}
	if c.StackDownMulti < 1 {
		return fmt.Errorf("config: STACK_DOWN_MULTI must be at least 1")
	}
	for _, key := range []struct{ name, val string }{
		{"MIN_COST_ORDER_CANCEL", c.MinCostOrderCancel},
		{"MIN_FEE", c.MinFee},
		{"DEFAULT_FEE_RATE", c.DefaultFeeRate},
		{"OTC_PERCENT_LIMIT", c.OTCPercentLimit},
		{"EXCHANGE_LIMIT_PERCENTAGE", c.ExchangeLimitPercentage},
		{"EXTERNAL_PRICES_DEVIATION_PERCENTS", c.ExternalPricesDeviationPercents},
		{"CRYPTOCOMPARE_DEVIATION_PERCENTS", c.CryptocompareDeviationPercents},
	} {
		if _, err := decimal.NewFromString(key.val); err != nil {
			return fmt.Errorf("config: %s: %w", key.name, err)
		}
	}
	return nil
}

// Decimal parses a value already checked by validate.
func Decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Brokers splits KAFKA_BROKERS on commas.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Catalog builds the currency and pair catalog.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	curs := make([]catalog.Currency, 0, len(c.Currencies))
	for _, cc := range c.Currencies {
		curs = append(curs, catalog.Currency{
			Code:            cc.Code,
			Scale:           cc.Scale,
			StackEnabled:    cc.StackEnabled,
			ExchangeEnabled: cc.ExchangeEnabled,
		})
	}

	pairs := make([]catalog.Pair, 0, len(c.Pairs))
	for _, pc := range c.Pairs {
		p := catalog.Pair{
			Base:              pc.Base,
			Quote:             pc.Quote,
			Enabled:           pc.Enabled,
			AutoOrdersEnabled: pc.AutoOrdersEnabled,
		}
		code := catalog.PairCode(pc.Base, pc.Quote)
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"price_step", pc.PriceStep, &p.PriceStep},
			{"quantity_step", pc.QuantityStep, &p.QuantityStep},
			{"min_order_cost", pc.MinOrderCost, &p.MinOrderCost},
			{"max_order_cost", pc.MaxOrderCost, &p.MaxOrderCost},
			{"deviation", pc.Deviation, &p.Deviation},
			{"custom_price", pc.CustomPrice, &p.CustomPrice},
		} {
			if f.raw == "" {
				continue
			}
			d, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("config: pair %s %s: %w", code, f.name, err)
			}
			*f.dst = d
		}
		for _, raw := range pc.Precisions {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("config: pair %s precision: %w", code, err)
			}
			p.Precisions = append(p.Precisions, d)
		}
		pairs = append(pairs, p)
	}
	return catalog.New(curs, pairs)
}

// Fees builds the per-user fee table.
func (c *Config) Fees() (*FeeTable, error) {
	t := &FeeTable{Default: Decimal(c.DefaultFeeRate), Overrides: make(map[uint64]decimal.Decimal, len(c.FeeRates))}
	for user, raw := range c.FeeRates {
		id, err := strconv.ParseUint(user, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: fee_rates key %q: %w", user, err)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("config: fee_rates[%s]: %w", user, err)
		}
		t.Overrides[id] = rate
	}
	return t, nil
}

// Policy builds the per-user order policy.
func (c *Config) Policy() (*UserPolicy, error) {
	p := &UserPolicy{autoDisabled: make(map[uint64]struct{})}
	for _, raw := range splitList(c.AutoOrdersDisabledUsers) {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: AUTO_ORDERS_DISABLED_USERS %q: %w", raw, err)
		}
		p.autoDisabled[id] = struct{}{}
	}
	return p, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
