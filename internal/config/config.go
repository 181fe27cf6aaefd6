// Package config loads the broker settings from the environment. A .env file
// in the working directory is applied first when present, so local runs and
// containers share the same knobs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Advice holds the scoring weights, normalizers and thresholds used by the
// stats and advisor packages. It is built once at startup and passed by
// value; nothing mutates it afterwards, which keeps scoring deterministic
// under arbitrary weight combinations in tests.
type Advice struct {
	WRoi float64
	WSpd float64
	WPpd float64

	SpdNorm float64
	PpdNorm float64

	PenaltySaturated float64
	PenaltyUnstable  float64
	PenaltyComp      float64

	RiskLow float64
	RiskMed float64

	SaturationMult float64
	FlipThreshold  float64

	BuyerTax  float64
	SellerTax float64

	// Anti-fraud thresholds: candidates beyond these are dropped outright.
	SuspectROI       float64
	SuspectCV        float64
	SuspectAbsProfit float64
	MinSafeSales     int64
}

// Settings is the full broker configuration.
type Settings struct {
	Port     string
	RedisURL string

	UniversalisBase string
	XIVAPIBase      string
	UserAgent       string

	CacheTTLShort time.Duration
	CacheTTLLong  time.Duration

	HTTPTimeout time.Duration
	RequestsRPS int
	RetryMax    int

	ScanBatchSize int
	ScanTopN      int
	ScanWindow    int // history window in days

	AllowedWorlds map[string]bool // nil = all worlds allowed

	Advice Advice
}

// Load reads the settings from the environment, applying .env when present.
func Load() Settings {
	_ = godotenv.Load() // missing .env is fine

	return Settings{
		Port:     getStr("PORT", "8080"),
		RedisURL: getStr("REDIS_URL", "redis://localhost:6379/0"),

		UniversalisBase: getStr("UNIVERSALIS_BASE", "https://universalis.app/api"),
		XIVAPIBase:      getStr("XIVAPI_BASE", "https://xivapi.com"),
		UserAgent:       getStr("USER_AGENT", "FFXIV-Broker/1.0"),

		CacheTTLShort: time.Duration(getInt("CACHE_TTL_SHORT", 600)) * time.Second,
		CacheTTLLong:  time.Duration(getInt("CACHE_TTL_LONG", 43200)) * time.Second,

		HTTPTimeout: time.Duration(getInt("HTTP_TIMEOUT", 10)) * time.Second,
		RequestsRPS: getInt("REQUESTS_RPS", 20),
		RetryMax:    getInt("RETRY_MAX", 3),

		ScanBatchSize: getInt("SCAN_BATCH_SIZE", 100),
		ScanTopN:      getInt("SCAN_TOP_N", 100),
		ScanWindow:    getInt("SCAN_WINDOW_DAYS", 7),

		AllowedWorlds: parseSet(os.Getenv("ALLOWED_WORLDS")),

		Advice: Advice{
			WRoi: getFloat("ADVICE_W_ROI", 0.7),
			WSpd: getFloat("ADVICE_W_SPD", 0.5),
			WPpd: getFloat("ADVICE_W_PPD", 0.4),

			SpdNorm: getFloat("ADVICE_SPD_NORM", 10.0),
			PpdNorm: getFloat("ADVICE_PPD_NORM", 50000.0),

			PenaltySaturated: getFloat("ADVICE_PENALTY_SATURO", 0.2),
			PenaltyUnstable:  getFloat("ADVICE_PENALTY_INSTABILE", 0.2),
			PenaltyComp:      getFloat("ADVICE_PENALTY_COMP", 0.1),

			RiskLow: getFloat("ADVICE_RISK_LOW", 0.3),
			RiskMed: getFloat("ADVICE_RISK_MED", 0.6),

			SaturationMult: getFloat("ADVICE_SATURATION_MULT", 5.0),
			FlipThreshold:  getFloat("FLIP_THRESHOLD", 0.7),

			BuyerTax:  getFloat("BUYER_TAX", 0.05),
			SellerTax: getFloat("SELLER_TAX", 0.05),

			SuspectROI:       getFloat("ADVICE_SUSPECT_ROI", 10.0),
			SuspectCV:        getFloat("ADVICE_SUSPECT_CV", 1.5),
			SuspectAbsProfit: getFloat("ADVICE_SUSPECT_ABS_PROFIT", 200000),
			MinSafeSales:     int64(getInt("ADVICE_MIN_SALES_SAFE", 5)),
		},
	}
}

// WorldAllowed reports whether the world passes the optional whitelist.
func (s Settings) WorldAllowed(world string) bool {
	if s.AllowedWorlds == nil {
		return true
	}
	return s.AllowedWorlds[world]
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func parseSet(csv string) map[string]bool {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, w := range strings.Split(csv, ",") {
		if w = strings.TrimSpace(w); w != "" {
			set[w] = true
		}
	}
	return set
}
