package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Pair   string `yaml:"pair"`
	DryRun bool   `yaml:"dry_run"`

	Chain struct {
		RPCHTTP      string `yaml:"rpc_http"`
		WalletPK     string `yaml:"wallet_pk"`
		AgentAddress string `yaml:"agent_address"`
		GasLimit     uint64 `yaml:"gas_limit"`
	} `yaml:"chain"`

	Lending struct {
		Pool       string `yaml:"pool"`
		PremiumBps int64  `yaml:"premium_bps"`
	} `yaml:"lending"`

	Venues struct {
		RouterA string `yaml:"router_a"`
		RouterB string `yaml:"router_b"`
	} `yaml:"venues"`

	Assets struct {
		Borrow       string `yaml:"borrow"`
		Intermediate string `yaml:"intermediate"`
	} `yaml:"assets"`

	Feeds struct {
		BinanceWsURL string `yaml:"binance_ws_url"`
		Coinbase     struct {
			WsURL   string `yaml:"ws_url"`
			Product string `yaml:"product"` // e.g. ETH-USD; empty disables the feed
		} `yaml:"coinbase"`
		Kraken struct {
			WsURL string `yaml:"ws_url"`
			Pair  string `yaml:"pair"` // e.g. ETH/USD; empty disables the feed
		} `yaml:"kraken"`
		Chainlink struct {
			Feed       string `yaml:"feed"`
			PollSec    int    `yaml:"poll_sec"`
			AssetLabel string `yaml:"asset_label"`
		} `yaml:"chainlink"`
	} `yaml:"feeds"`

	Redis struct {
		Addr        string `yaml:"addr"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		TickStream  string `yaml:"tick_stream"`
		AuditStream string `yaml:"audit_stream"`
	} `yaml:"redis"`

	Risk struct {
		MinProfitWei     string  `yaml:"min_profit_wei"`
		MinROIBps        float64 `yaml:"min_roi_bps"`
		SpreadThreshold  float64 `yaml:"spread_threshold_pct"`
		MinVolume        float64 `yaml:"min_volume"`
		VolatilityFactor float64 `yaml:"volatility_factor"`
		HistoryWindow    int     `yaml:"history_window"`
		MaxLatencySec    float64 `yaml:"max_latency_sec"`
	} `yaml:"risk"`

	Trade struct {
		BorrowWei   string `yaml:"borrow_wei"`
		DeadlineSec int    `yaml:"deadline_sec"`
	} `yaml:"trade"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Monitor struct {
		ListenAddr string `yaml:"listen_addr"`
		PollSec    int    `yaml:"poll_sec"`
	} `yaml:"monitor"`

	Timings struct {
		DetectorTickMs  int `yaml:"detector_tick_ms"`
		QuoteIntervalMs int `yaml:"quote_interval_ms"`
	} `yaml:"timings"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Timings.DetectorTickMs == 0 {
		c.Timings.DetectorTickMs = 500
	}
	if c.Timings.QuoteIntervalMs == 0 {
		c.Timings.QuoteIntervalMs = 1000
	}
	if c.Trade.DeadlineSec == 0 {
		c.Trade.DeadlineSec = 300
	}
	if c.Lending.PremiumBps == 0 {
		c.Lending.PremiumBps = 9 // Aave-style 0.09%
	}
	if c.Risk.HistoryWindow == 0 {
		c.Risk.HistoryWindow = 10
	}
	if c.Risk.MaxLatencySec == 0 {
		c.Risk.MaxLatencySec = 6.0
	}
	if c.Risk.VolatilityFactor == 0 {
		c.Risk.VolatilityFactor = 1.5
	}
	if c.Feeds.BinanceWsURL == "" {
		c.Feeds.BinanceWsURL = "wss://stream.binance.com:9443/ws"
	}
	if c.Feeds.Coinbase.WsURL == "" {
		c.Feeds.Coinbase.WsURL = "wss://ws-feed.exchange.coinbase.com"
	}
	if c.Feeds.Kraken.WsURL == "" {
		c.Feeds.Kraken.WsURL = "wss://ws.kraken.com"
	}
	if c.Feeds.Chainlink.PollSec == 0 {
		c.Feeds.Chainlink.PollSec = 5
	}
	if c.Redis.TickStream == "" {
		c.Redis.TickStream = "market:ticks"
	}
	if c.Redis.AuditStream == "" {
		c.Redis.AuditStream = "audit:events"
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 800_000
	}
	if c.Monitor.PollSec == 0 {
		c.Monitor.PollSec = 10
	}

	for name, addr := range map[string]string{
		"lending.pool":        c.Lending.Pool,
		"venues.router_a":     c.Venues.RouterA,
		"venues.router_b":     c.Venues.RouterB,
		"assets.borrow":       c.Assets.Borrow,
		"assets.intermediate": c.Assets.Intermediate,
		"chain.agent_address": c.Chain.AgentAddress,
	} {
		if addr == "" {
			continue // validated at use; not every binary needs every address
		}
		if _, err := ChecksumAddress(addr); err != nil {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
	}
	return &c, nil
}

func (c *Config) DetectorTick() time.Duration {
	return time.Duration(c.Timings.DetectorTickMs) * time.Millisecond
}

func (c *Config) QuoteInterval() time.Duration {
	return time.Duration(c.Timings.QuoteIntervalMs) * time.Millisecond
}

// BorrowAmount parses trade.borrow_wei.
func (c *Config) BorrowAmount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(c.Trade.BorrowWei, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("config trade.borrow_wei: bad value %q", c.Trade.BorrowWei)
	}
	return v, nil
}

// MinProfit parses risk.min_profit_wei; empty means zero.
func (c *Config) MinProfit() (*big.Int, error) {
	if c.Risk.MinProfitWei == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(c.Risk.MinProfitWei, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config risk.min_profit_wei: bad value %q", c.Risk.MinProfitWei)
	}
	return v, nil
}
