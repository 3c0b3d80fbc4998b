package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/karalabe/rabbitfence/config"
	controller "github.com/karalabe/rabbitfence/internal/controller/http"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/karalabe/rabbitfence/internal/usecase"
	"github.com/karalabe/rabbitfence/internal/usecase/bus"
	"github.com/karalabe/rabbitfence/internal/usecase/rabbitmq"
	"github.com/karalabe/rabbitfence/pkg/lockfile"
	"github.com/karalabe/rabbitfence/pkg/logger"
)

// SetupLogging points the root logger at syslog or stderr as configured.
func SetupLogging(cfg config.Log) error {
	handler, err := logger.Handler(logger.Config{
		Name:   cfg.Name,
		Level:  cfg.Level,
		Syslog: cfg.Syslog,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	log.Root().SetHandler(handler)
	return nil
}

// Run starts the fencing daemon and blocks until it is signalled to stop or
// fails. A nil return means a clean, signal induced shutdown.
func Run(cfg *config.Config) error {
	if cfg.Detach {
		parent, err := Detach()
		if err != nil {
			return fmt.Errorf("detach: %w", err)
		}
		if parent {
			return nil
		}
	}
	if err := DropPrivileges(cfg.User); err != nil {
		log.Error("Failed to drop privileges", "user", cfg.User, "err", err)
		return err
	}
	lock, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		log.Error("Another copy of rabbit-fence is running!", "lock", cfg.LockFile, "err", err)
		return err
	}
	defer lock.Release()

	log.Info("Starting rabbit fence main loop", "version", cfg.Version, "bus", cfg.Transport, "pid", os.Getpid())

	clusterBus, err := OpenBus(cfg.Bus)
	if err != nil {
		log.Error("Cannot get the cluster bus", "transport", cfg.Transport, "err", err)
		return err
	}
	defer clusterBus.Close()

	if cfg.MetricsAddr != "" {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: controller.NewRouter(httprouter.New())}
		go func() {
			log.Info("Starting metrics endpoint", "addr", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics endpoint failed", "err", err)
			}
		}()
		defer server.Close()
	}
	dispatcher := usecase.NewDispatcher(NewFencer(cfg.Broker), log.New("module", "dispatcher"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx, clusterBus.Events()) }()

	// Waiting signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	NotifyReady()

	select {
	case s := <-interrupt:
		log.Info("Caught " + s.String() + ", terminating...")
		return nil
	case err := <-done:
		if err == nil {
			err = errors.New("cluster bus closed")
		}
		log.Error("Event loop terminated", "err", err)
		return err
	}
}

// NewFencer assembles the broker facing side of the daemon.
func NewFencer(cfg config.Broker) *usecase.Fencer {
	executor := rabbitmq.NewExecutor(rabbitmq.Account{User: cfg.Account, Home: cfg.Home}, log.New("module", "exec"))
	ctl := rabbitmq.NewCtl(executor, rabbitmq.Config{
		Path:       cfg.Ctl,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
	}, log.New("module", "rabbitmqctl"))

	return usecase.NewFencer(ctl, cfg.ConfigFile, log.New("module", "fencer"))
}

// OpenBus connects to the configured membership bus transport.
func OpenBus(cfg config.Bus) (usecase.ClusterBus, error) {
	logger := log.New("module", "bus", "transport", cfg.Transport)

	switch cfg.Transport {
	case config.BusDBus:
		return bus.NewDBus(bus.DBusConfig{
			Interface:   cfg.DBusInterface,
			Destination: cfg.DBusDestination,
			Path:        cfg.DBusPath,
		}, logger)
	case config.BusNSQ:
		return bus.NewNSQ(nsqConfig(cfg), logger)
	case config.BusEtcd:
		return bus.NewEtcd(bus.EtcdConfig{
			Endpoints: cfg.EtcdEndpoints,
			Prefix:    cfg.EtcdPrefix,
			Self:      cfg.EtcdSelf,
			TTL:       cfg.EtcdTTL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown bus transport '%s'", cfg.Transport)
	}
}

func nsqConfig(cfg config.Bus) bus.NSQConfig {
	return bus.NSQConfig{
		Topic:   cfg.NSQTopic,
		Channel: cfg.NSQChannel,
		Lookupd: cfg.NSQLookupd,
		NSQD:    cfg.NSQD,
		Secret:  cfg.NSQSecret,
	}
}

// Probe evaluates what the daemon would decide for each departed address
// without touching the broker, and writes a report. Without addresses the
// host of the local broker node name is probed.
func Probe(cfg *config.Config, addresses []string, w io.Writer) error {
	fencer := NewFencer(cfg.Broker)

	node, err := fencer.NodeName()
	if err != nil {
		return err
	}
	local, err := fencer.LocalName()
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		addresses = []string{node[strings.IndexByte(node, '@')+1:]}
	}
	report := &entity.Report{Local: local, NodeName: node}
	for _, addr := range addresses {
		res, err := fencer.Probe(context.Background(), addr)
		if err != nil {
			return err
		}
		report.Results = append(report.Results, res)
	}
	_, err = report.WriteTo(w)
	return err
}

// Emit publishes a synthetic membership event onto the NSQ bus.
func Emit(cfg *config.Config, address, action string) error {
	if len(cfg.NSQD) == 0 {
		return errors.New("emit needs an nsqd address (--nsq.nsqd)")
	}
	ev := &entity.ClusterEvent{
		Type:    entity.NodeStateChange,
		Action:  action,
		Address: address,
		Args:    []interface{}{address, "", "", action},
	}
	if err := bus.Publish(nsqConfig(cfg.Bus), cfg.NSQD[0], ev, log.New("module", "emit")); err != nil {
		return err
	}
	log.Info("Published membership event", "event", ev.String(), "nsqd", cfg.NSQD[0])
	return nil
}
