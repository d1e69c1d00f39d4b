package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/books"
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/dispatcher"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gms"
	"github.com/kylebaus/Baus/internal/obs"
	"github.com/kylebaus/Baus/internal/oms"
	"github.com/kylebaus/Baus/internal/ops"
	"github.com/kylebaus/Baus/internal/recorder"
	"github.com/kylebaus/Baus/internal/risk"
	"github.com/kylebaus/Baus/internal/strategy"
	"github.com/kylebaus/Baus/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	watchSymbol := flag.String("watch", "", "internal symbol for the book watcher strategy")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("load config %s: %+v", *configPath, err)
		os.Exit(1)
	}

	if loaded.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.AppName,
			ServerAddress:   loaded.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("start profiler: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = profiler.Stop() }()
	}

	registry := gms.New()
	for _, cfg := range loaded.Gateways {
		if _, err := registry.Register(cfg); err != nil {
			logs.Errorf("register gateway %s: %+v", cfg.Account, err)
			os.Exit(1)
		}
	}

	metrics := obs.NewMetrics()

	if loaded.Admin.Enable {
		admin, err := obs.NewAdmin(metrics, loaded.Admin.SocketPath)
		if err != nil {
			logs.Errorf("start admin socket: %+v", err)
			os.Exit(1)
		}
		go admin.Run(ctx)
		defer func() { _ = admin.Close() }()
	}

	d := dispatcher.New(oms.NewLedger(), books.NewCache(), registry)
	d.Metrics = metrics

	if loaded.Risk.Enable {
		d.Risk = risk.NewEngine(risk.Config{
			KillSwitch:           loaded.Risk.KillSwitch,
			MaxOrderQuantity:     loaded.Risk.MaxOrderQuantity,
			MaxPosition:          loaded.Risk.MaxPosition,
			MaxPriceDeviationBps: loaded.Risk.MaxPriceDeviationBps,
			OrderRateLimit:       loaded.Risk.OrderRateLimit,
			OrderRateWindow:      time.Duration(loaded.Risk.OrderRateWindowMillis) * time.Millisecond,
		})
	}

	if loaded.Journal.Enable {
		client, err := conn.New(conn.Option{
			Host:     loaded.Journal.Host,
			Port:     loaded.Journal.Port,
			User:     loaded.Journal.User,
			Password: loaded.Journal.Password,
			Database: loaded.Journal.Database,
		})
		if err != nil {
			logs.Errorf("connect fill journal: %+v", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()

		journal, err := recorder.NewJournal(client)
		if err != nil {
			logs.Errorf("prepare fill journal: %+v", err)
			os.Exit(1)
		}
		d.OnFill = journal.Record
		go journal.Run(ctx)
		defer journal.Close()
	}

	runtime := strategy.NewRuntime(d)
	runtime.Metrics = metrics

	if *watchSymbol != "" {
		watcher, err := newBookWatcher(loaded, *watchSymbol)
		if err != nil {
			logs.Errorf("build book watcher: %+v", err)
			os.Exit(1)
		}
		runtime.Register(watcher)
	}

	registry.Run(ctx)
	logs.Info("trader: running")
	runtime.Run(ctx)

	snapshot := metrics.Snapshot()
	logs.Infof("trader: stopped, routed events %v, drops %d, loop avg %s",
		snapshot.EventCounts, snapshot.QueueDrops, snapshot.LoopLatency.Avg)
}

const watchLogInterval = 5 * time.Second

// bookWatcher is a read-only strategy: it opens the instrument's book,
// trade and fill streams and logs the top of book periodically. Useful for
// verifying connectivity on a new venue before trading on it.
type bookWatcher struct {
	account    core.Account
	instrument *core.Instrument
	lastLogged time.Time
}

func newBookWatcher(loaded ops.Loaded, symbol string) (*bookWatcher, error) {
	instrument, err := loaded.Instrument(symbol)
	if err != nil {
		return nil, err
	}
	for _, cfg := range loaded.Gateways {
		if cfg.Account.Exchange == instrument.Exchange {
			return &bookWatcher{account: cfg.Account, instrument: instrument}, nil
		}
	}
	return nil, errNoGateway(instrument)
}

type noGatewayError struct{ exchange core.Exchange }

func errNoGateway(instrument *core.Instrument) error {
	return noGatewayError{exchange: instrument.Exchange}
}

func (e noGatewayError) Error() string {
	return "no gateway configured for " + e.exchange.String()
}

func (w *bookWatcher) Name() string { return "book-watcher" }

func (w *bookWatcher) OnStart(ctx *strategy.Context) {
	ctx.SubscribeOrderbook(w.account, w.instrument)
	ctx.SubscribeTrades(w.account, w.instrument)
	ctx.SubscribeFills(w.account)
}

func (w *bookWatcher) OnEvent(_ *strategy.Context, e event.Event) {
	switch e := e.(type) {
	case event.Trade:
		logs.Infof("watch %s: trade %s %f @ %f",
			w.instrument.InternalSymbol, e.Side, e.Quantity, e.Price)
	case event.Disconnect:
		logs.Infof("watch %s: gateway %s disconnected", w.instrument.InternalSymbol, e.Account)
	}
}

func (w *bookWatcher) Update(ctx *strategy.Context) {
	if time.Since(w.lastLogged) < watchLogInterval {
		return
	}
	book, err := ctx.Orderbook(w.instrument)
	if err != nil {
		return
	}
	w.lastLogged = time.Now()
	logs.Infof("watch %s: bid %f x %f / ask %f x %f",
		w.instrument.InternalSymbol,
		book.BestBid().Price, book.BestBid().Quantity,
		book.BestAsk().Price, book.BestAsk().Quantity)
}
