// Package config loads the server configuration from flags, environment
// variables and an optional .env file. Environment variables override flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/creatorpad/settlement-engine/internal/chain"
	"github.com/creatorpad/settlement-engine/internal/guard"
	"github.com/creatorpad/settlement-engine/internal/units"
)

// Config is the server configuration.
type Config struct {
	Port            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	LogFormat string
	Verbose   bool

	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	// Registry is the address token addresses are derived from.
	Registry  common.Address
	BlockTime time.Duration

	APIRatePerMinute float64
	APIRateBurst     int

	// RequireSignatures makes POST bodies carry the sender's signature.
	RequireSignatures bool

	Guard               guard.Config
	LargeTradeThreshold *uint256.Int
	PriceImpactWarnBps  uint64
	HistoryCap          int
}

// LoadDotEnv loads path into the environment if it exists. Variables already
// set are not overwritten.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load parses args (without the program name) and applies environment
// overrides read through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	flags := flag.NewFlagSet("settlement-engine", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	port := flags.String("port", "8080", "HTTP listen port (or set PORT env var)")
	shutdown := flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	cors := flags.StringSlice("cors-origins", []string{"*"}, "allowed CORS origins (or set CORS_ORIGINS env var)")
	logFormat := flags.String("log-format", "json", "log format: json or text (or set LOG_FORMAT env var)")
	verbose := flags.Bool("verbose", false, "enable verbose (debug) logging (or set VERBOSE=true env var)")

	dbURL := flags.String("database-url", "", "PostgreSQL URL; empty keeps the archive in memory (or set DATABASE_URL env var)")
	redisURL := flags.String("redis-url", "", "Redis URL for the read-through cache (or set REDIS_URL env var)")
	cacheTTL := flags.Duration("cache-ttl", 30*time.Second, "Redis cache TTL")

	kafkaBrokers := flags.StringSlice("kafka-brokers", nil, "Kafka brokers for the event stream (or set KAFKA_BROKERS env var)")
	kafkaTopic := flags.String("kafka-topic", "creatorpad.events", "Kafka topic (or set KAFKA_TOPIC env var)")

	registry := flags.String("registry", "0x00000000000000000000000000000000c0ffee01", "registry address token addresses derive from (or set REGISTRY_ADDRESS env var)")
	blockTime := flags.Duration("block-time", chain.DefaultBlockTime, "block interval of the block clock (or set BLOCK_TIME env var)")

	ratePerMinute := flags.Float64("api-rate-per-minute", 120, "per-IP trade request rate (or set API_RATE_PER_MINUTE env var)")
	rateBurst := flags.Int("api-rate-burst", 20, "per-IP trade request burst (or set API_RATE_BURST env var)")
	requireSigs := flags.Bool("require-signatures", false, "require POST bodies signed by their sender (or set REQUIRE_SIGNATURES=true env var)")

	blockDelay := flags.Uint64("guard-block-delay", 0, "blocks between a user's trades; 0 disables (or set GUARD_BLOCK_DELAY env var)")
	maxPerBlock := flags.Uint32("guard-max-trades-per-block", 5, "per-address trades allowed in one block (or set GUARD_MAX_TRADES_PER_BLOCK env var)")
	flagThreshold := flags.Uint32("guard-flag-threshold", 3, "same-block trades after which an address is flagged")
	window := flags.Duration("guard-window", time.Minute, "rolling volume window (or set GUARD_WINDOW env var)")
	maxVolume := flags.String("guard-max-volume-eth", "", "ETH volume cap per window; empty disables (or set GUARD_MAX_VOLUME_ETH env var)")
	frontRunPct := flags.Uint64("guard-front-run-pct", 200, "gas price percent of the rolling average that counts as front-running (or set GUARD_FRONT_RUN_PCT env var)")
	frontRunFlagOnly := flags.Bool("guard-front-run-flag-only", false, "flag suspected front-running instead of rejecting (or set GUARD_FRONT_RUN_FLAG_ONLY=true env var)")
	revealDelay := flags.Int64("guard-reveal-delay", 1, "blocks between a commit and its reveal; -1 allows the same block (or set GUARD_REVEAL_DELAY env var)")
	commitTTL := flags.Duration("guard-commit-ttl", 24*time.Hour, "unrevealed commit lifetime (or set GUARD_COMMIT_TTL env var)")

	largeTrade := flags.String("large-trade-eth", "10", "ETH value at which a trade emits LargeTrade (or set LARGE_TRADE_ETH env var)")
	impactBps := flags.Uint64("price-impact-warn-bps", 500, "price impact that emits PriceImpactWarning")
	historyCap := flags.Int("history-cap", 10000, "trades kept in each engine's in-memory history")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	env := envOverrides{getenv: getenv}
	env.string("PORT", port)
	env.strings("CORS_ORIGINS", cors)
	env.string("LOG_FORMAT", logFormat)
	env.bool("VERBOSE", verbose)
	env.string("DATABASE_URL", dbURL)
	env.string("REDIS_URL", redisURL)
	env.strings("KAFKA_BROKERS", kafkaBrokers)
	env.string("KAFKA_TOPIC", kafkaTopic)
	env.string("REGISTRY_ADDRESS", registry)
	env.duration("BLOCK_TIME", blockTime)
	env.float("API_RATE_PER_MINUTE", ratePerMinute)
	env.int("API_RATE_BURST", rateBurst)
	env.bool("REQUIRE_SIGNATURES", requireSigs)
	env.uint64("GUARD_BLOCK_DELAY", blockDelay)
	env.uint32("GUARD_MAX_TRADES_PER_BLOCK", maxPerBlock)
	env.duration("GUARD_WINDOW", window)
	env.string("GUARD_MAX_VOLUME_ETH", maxVolume)
	env.uint64("GUARD_FRONT_RUN_PCT", frontRunPct)
	env.bool("GUARD_FRONT_RUN_FLAG_ONLY", frontRunFlagOnly)
	env.int64("GUARD_REVEAL_DELAY", revealDelay)
	env.duration("GUARD_COMMIT_TTL", commitTTL)
	env.string("LARGE_TRADE_ETH", largeTrade)
	if env.err != nil {
		return nil, env.err
	}

	if !common.IsHexAddress(*registry) {
		return nil, fmt.Errorf("config: invalid registry address %q", *registry)
	}
	if *ratePerMinute <= 0 || *rateBurst <= 0 {
		return nil, errors.New("config: API rate and burst must be positive")
	}

	cfg := &Config{
		Port:              *port,
		ShutdownTimeout:   *shutdown,
		CORSOrigins:       *cors,
		LogFormat:         *logFormat,
		Verbose:           *verbose,
		DatabaseURL:       *dbURL,
		RedisURL:          *redisURL,
		CacheTTL:          *cacheTTL,
		KafkaBrokers:      *kafkaBrokers,
		KafkaTopic:        *kafkaTopic,
		Registry:          common.HexToAddress(*registry),
		BlockTime:         *blockTime,
		APIRatePerMinute:  *ratePerMinute,
		APIRateBurst:      *rateBurst,
		RequireSignatures: *requireSigs,
		Guard: guard.Config{
			BlockDelay:           *blockDelay,
			MaxTradesPerBlock:    *maxPerBlock,
			FlagThreshold:        *flagThreshold,
			Window:               *window,
			FrontRunThresholdPct: *frontRunPct,
			FrontRunFlagOnly:     *frontRunFlagOnly,
			RevealDelay:          *revealDelay,
			CommitTTL:            *commitTTL,
		},
		PriceImpactWarnBps: *impactBps,
		HistoryCap:         *historyCap,
	}

	var err error
	if *maxVolume != "" {
		if cfg.Guard.MaxVolumePerWindow, err = units.ParseUnits(*maxVolume); err != nil {
			return nil, fmt.Errorf("config: guard max volume: %w", err)
		}
	}
	if cfg.LargeTradeThreshold, err = units.ParseUnits(*largeTrade); err != nil {
		return nil, fmt.Errorf("config: large trade threshold: %w", err)
	}
	if err := cfg.Guard.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// FromOS loads the configuration from os.Args and the process environment.
func FromOS() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// envOverrides applies set environment variables over parsed flags and
// keeps the first parse error.
type envOverrides struct {
	getenv func(string) string
	err    error
}

func (e *envOverrides) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != "" && e.err == nil
}

func (e *envOverrides) fail(key, v string, err error) {
	e.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
}

func (e *envOverrides) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envOverrides) strings(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envOverrides) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envOverrides) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envOverrides) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envOverrides) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) int64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) uint64(key string, dst *uint64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) uint32(key string, dst *uint32) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = uint32(n)
	}
}
