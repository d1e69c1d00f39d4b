// Package ops resolves the runtime configuration: the JSON file describes
// gateways and instruments, credentials come from the environment so they
// never live in a file that gets committed.
package ops

import (
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/gateway"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Gateways    []GatewayConfig    `json:"gateways"`
	Instruments []InstrumentConfig `json:"instruments"`
	Journal     JournalConfig      `json:"journal"`
	Risk        RiskConfig         `json:"risk"`
	Admin       AdminConfig        `json:"admin"`
	Profiling   ProfilingConfig    `json:"profiling"`
}

// GatewayConfig describes one (exchange, account) connection entry.
type GatewayConfig struct {
	Exchange  string `json:"exchange"`
	Account   string `json:"account"`
	EnvPrefix string `json:"envPrefix"`

	RestHost    string `json:"restHost"`
	Host        string `json:"host"`
	PublicHost  string `json:"publicHost"`
	PrivateHost string `json:"privateHost"`

	RateLimitCooldownMillis int64 `json:"rateLimitCooldownMillis"`
	ReconnectCooloffMillis  int64 `json:"reconnectCooloffMillis"`

	CancelRejectClosedCodes []string `json:"cancelRejectClosedCodes"`
}

// InstrumentConfig describes one tradable market entry.
type InstrumentConfig struct {
	Exchange       string `json:"exchange"`
	Symbol         string `json:"symbol"`
	ExternalSymbol string `json:"externalSymbol"`
	Kind           string `json:"kind"`

	PriceTick        float64 `json:"priceTick"`
	QuantityStep     float64 `json:"quantityStep"`
	MinOrderQuantity float64 `json:"minOrderQuantity"`
	MinOrderNotional float64 `json:"minOrderNotional"`
	ContractValue    float64 `json:"contractValue"`
	Expiry           string  `json:"expiry"`
}

// JournalConfig enables the fill journal. Connection settings come from
// the environment under the configured prefix.
type JournalConfig struct {
	Enable    bool   `json:"enable"`
	EnvPrefix string `json:"envPrefix"`
}

// RiskConfig enables pre-trade limits. Zero limits disable the matching
// check.
type RiskConfig struct {
	Enable                bool    `json:"enable"`
	KillSwitch            bool    `json:"killSwitch"`
	MaxOrderQuantity      float64 `json:"maxOrderQuantity"`
	MaxPosition           float64 `json:"maxPosition"`
	MaxPriceDeviationBps  float64 `json:"maxPriceDeviationBps"`
	OrderRateLimit        int     `json:"orderRateLimit"`
	OrderRateWindowMillis int64   `json:"orderRateWindowMillis"`
}

// AdminConfig enables the local metrics socket.
type AdminConfig struct {
	Enable     bool   `json:"enable"`
	SocketPath string `json:"socketPath"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	AppName       string `json:"appName"`
	ServerAddress string `json:"serverAddress"`
}

// Credentials are resolved from the environment under a per-gateway
// prefix, e.g. DERIBIT_MAIN_KEY.
type Credentials struct {
	Key        string `env:"KEY"`
	Secret     string `env:"SECRET"`
	Passphrase string `env:"PASSPHRASE"`
}

// Journal is the resolved fill-journal connection.
type Journal struct {
	Enable   bool
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Database string `env:"DATABASE"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Gateways    []gateway.Config
	Instruments map[string]*core.Instrument
	Journal     Journal
	Risk        RiskConfig
	Admin       AdminConfig
	Profiling   ProfilingConfig
}

// Instrument resolves an internal symbol. Wiring code calls this during
// startup, where an unknown symbol is fatal.
func (l Loaded) Instrument(symbol string) (*core.Instrument, error) {
	instrument, ok := l.Instruments[symbol]
	if !ok {
		return nil, errors.Errorf("unknown instrument symbol %q", symbol)
	}
	return instrument, nil
}

// Load reads the JSON config file and resolves credentials from the
// environment.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}

	var cfg FileConfig
	if err := sonic.ConfigFastest.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		Instruments: make(map[string]*core.Instrument, len(cfg.Instruments)),
		Risk:        cfg.Risk,
		Admin:       cfg.Admin,
		Profiling:   cfg.Profiling,
	}

	for _, entry := range cfg.Gateways {
		resolved, err := resolveGateway(entry)
		if err != nil {
			return Loaded{}, err
		}
		loaded.Gateways = append(loaded.Gateways, resolved)
	}

	for _, entry := range cfg.Instruments {
		instrument, err := resolveInstrument(entry)
		if err != nil {
			return Loaded{}, err
		}
		if _, ok := loaded.Instruments[instrument.InternalSymbol]; ok {
			return Loaded{}, errors.Errorf("duplicate instrument symbol %q", instrument.InternalSymbol)
		}
		loaded.Instruments[instrument.InternalSymbol] = instrument
	}

	if cfg.Journal.Enable {
		journal, err := env.ParseAsWithOptions[Journal](env.Options{Prefix: cfg.Journal.EnvPrefix})
		if err != nil {
			return Loaded{}, errors.Wrap(err, "resolve journal connection")
		}
		journal.Enable = true
		loaded.Journal = journal
	}

	return loaded, nil
}

func resolveGateway(entry GatewayConfig) (gateway.Config, error) {
	exchange, err := core.ParseExchange(entry.Exchange)
	if err != nil {
		return gateway.Config{}, errors.Wrapf(err, "gateway %s/%s", entry.Exchange, entry.Account)
	}

	credentials, err := env.ParseAsWithOptions[Credentials](env.Options{Prefix: entry.EnvPrefix})
	if err != nil {
		return gateway.Config{}, errors.Wrapf(err, "resolve credentials for %s/%s", entry.Exchange, entry.Account)
	}
	if credentials.Key == "" || credentials.Secret == "" {
		return gateway.Config{}, errors.Errorf("missing credentials under prefix %q", entry.EnvPrefix)
	}

	return gateway.Config{
		Account:                 core.Account{Exchange: exchange, Name: entry.Account},
		Key:                     credentials.Key,
		Secret:                  credentials.Secret,
		Passphrase:              credentials.Passphrase,
		RestHost:                entry.RestHost,
		Host:                    entry.Host,
		PublicHost:              entry.PublicHost,
		PrivateHost:             entry.PrivateHost,
		RateLimitCooldown:       time.Duration(entry.RateLimitCooldownMillis) * time.Millisecond,
		ReconnectCooloff:        time.Duration(entry.ReconnectCooloffMillis) * time.Millisecond,
		CancelRejectClosedCodes: entry.CancelRejectClosedCodes,
	}, nil
}

func parseKind(kind string) (core.InstrumentKind, error) {
	switch kind {
	case "spot":
		return core.InstrumentSpot, nil
	case "linear_future":
		return core.InstrumentLinearFuture, nil
	case "inverse_future":
		return core.InstrumentInverseFuture, nil
	case "linear_perpetual":
		return core.InstrumentLinearPerpetual, nil
	case "inverse_perpetual":
		return core.InstrumentInversePerpetual, nil
	case "linear_option":
		return core.InstrumentLinearOption, nil
	case "inverse_option":
		return core.InstrumentInverseOption, nil
	default:
		return 0, errors.Errorf("unknown instrument kind %q", kind)
	}
}

func resolveInstrument(entry InstrumentConfig) (*core.Instrument, error) {
	exchange, err := core.ParseExchange(entry.Exchange)
	if err != nil {
		return nil, errors.Wrapf(err, "instrument %s", entry.Symbol)
	}
	kind, err := parseKind(entry.Kind)
	if err != nil {
		return nil, errors.Wrapf(err, "instrument %s", entry.Symbol)
	}
	if entry.PriceTick <= 0 || entry.QuantityStep <= 0 {
		return nil, errors.Errorf("instrument %s: price tick and quantity step must be positive", entry.Symbol)
	}

	var expiry time.Time
	if entry.Expiry != "" {
		expiry, err = time.Parse(time.RFC3339, entry.Expiry)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %s expiry", entry.Symbol)
		}
	}

	return &core.Instrument{
		Exchange:         exchange,
		InternalSymbol:   entry.Symbol,
		ExternalSymbol:   entry.ExternalSymbol,
		PriceTick:        entry.PriceTick,
		QuantityStep:     entry.QuantityStep,
		MinOrderQuantity: entry.MinOrderQuantity,
		MinOrderNotional: entry.MinOrderNotional,
		Kind:             kind,
		ContractValue:    entry.ContractValue,
		Expiry:           expiry,
	}, nil
}
