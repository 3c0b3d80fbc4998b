package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/spf13/cobra"
)

// Bus transports membership events can be received over.
const (
	BusDBus = "dbus"
	BusNSQ  = "nsq"
	BusEtcd = "etcd"
)

type Config struct {
	App
	Broker
	Bus
	Log
}

// Configuration of the daemon process itself
type App struct {
	Version     string
	LockFile    string // Exclusion lock path, one running instance per host
	User        string // Service account to drop privileges to, none if empty
	Detach      bool   // Re-exec into a new session in the background
	MetricsAddr string // Listener for /healthz and /metrics, disabled if empty
}

// Configuration of the RabbitMQ side
type Broker struct {
	ConfigFile string        // rabbitmq-env.conf holding the NODENAME line
	Ctl        string        // rabbitmqctl binary
	Account    string        // Account rabbitmqctl must believe it runs as
	Home       string        // Home of that account
	Retries    int           // Liveness re-checks of a still running node
	RetryDelay time.Duration // Pause between liveness checks
}

// Configuration of the membership bus
type Bus struct {
	Transport string // dbus, nsq or etcd

	DBusInterface   string
	DBusDestination string
	DBusPath        string

	NSQTopic   string
	NSQChannel string
	NSQLookupd []string
	NSQD       []string
	NSQSecret  string

	EtcdEndpoints []string
	EtcdPrefix    string
	EtcdTTL       int64
	EtcdSelf      string
}

// Configuration of the log output
type Log struct {
	Name   string
	Level  string
	Syslog bool
}

// Flags registers every option NewConfig understands on the command.
func Flags(cmd *cobra.Command) {
	host, _ := os.Hostname()

	cmd.Flags().String("lock.file", "/var/run/rabbitmq/rabbit-fence.lock", "Exclusion lock guaranteeing a single running instance")
	cmd.Flags().String("user", "rabbitmq", "Unprivileged account to switch to after startup (empty = keep current)")
	cmd.Flags().Bool("detach", false, "Detach from the terminal and run in the background")
	cmd.Flags().String("metrics.addr", "", "Listener address for /healthz and /metrics (empty = disabled)")

	cmd.Flags().String("broker.config", "/etc/rabbitmq/rabbitmq-env.conf", "RabbitMQ environment file holding the NODENAME assignment")
	cmd.Flags().String("broker.ctl", "rabbitmqctl", "Path to the rabbitmqctl binary")
	cmd.Flags().String("broker.account", "rabbitmq", "Account rabbitmqctl is invoked as")
	cmd.Flags().String("broker.home", "/var/lib/rabbitmq", "Home directory of the broker account")
	cmd.Flags().Int("broker.retries", 5, "Liveness re-checks before accepting a node as alive")
	cmd.Flags().Duration("broker.retry-delay", 10*time.Second, "Pause between liveness checks")

	cmd.Flags().String("bus", BusDBus, "Membership bus transport: dbus, nsq or etcd")
	cmd.Flags().String("dbus.interface", "org.corosync", "D-Bus interface corosync signals are emitted on")
	cmd.Flags().String("dbus.destination", "org.corosync", "D-Bus name of the corosync notifier checked on startup")
	cmd.Flags().String("dbus.path", "/org/corosync", "Object path of the corosync notifier checked on startup")
	cmd.Flags().String("nsq.topic", "corosync", "NSQ topic membership events are relayed on")
	cmd.Flags().String("nsq.channel", entity.ShortName(host)+"#ephemeral", "NSQ channel of this node")
	cmd.Flags().StringSlice("nsq.lookupd", []string{"127.0.0.1:4161"}, "nsqlookupd HTTP addresses")
	cmd.Flags().StringSlice("nsq.nsqd", nil, "nsqd TCP addresses to connect to directly (overrides lookupd)")
	cmd.Flags().String("nsq.secret", "", "Shared secret for mutual TLS on the bus (empty = plaintext)")
	cmd.Flags().StringSlice("etcd.endpoints", []string{"http://127.0.0.1:2379"}, "etcd client URLs")
	cmd.Flags().String("etcd.prefix", "/rabbit-fence/nodes/", "Key prefix members register under")
	cmd.Flags().Int64("etcd.ttl", 10, "Registration lease TTL in seconds")
	cmd.Flags().String("etcd.self", host, "Address this node registers with")

	cmd.Flags().String("log.level", "debug", "Log verbosity: crit, error, warn, info, debug, trace")
	cmd.Flags().Bool("log.syslog", true, "Log to the syslog daemon facility instead of stderr")
}

func NewConfig(cmd *cobra.Command, args []string) *Config {
	app := App{Version: "0.1"}
	app.LockFile, _ = cmd.Flags().GetString("lock.file")
	app.User, _ = cmd.Flags().GetString("user")
	app.Detach, _ = cmd.Flags().GetBool("detach")
	app.MetricsAddr, _ = cmd.Flags().GetString("metrics.addr")

	var broker Broker
	broker.ConfigFile, _ = cmd.Flags().GetString("broker.config")
	broker.Ctl, _ = cmd.Flags().GetString("broker.ctl")
	broker.Account, _ = cmd.Flags().GetString("broker.account")
	broker.Home, _ = cmd.Flags().GetString("broker.home")
	broker.Retries, _ = cmd.Flags().GetInt("broker.retries")
	broker.RetryDelay, _ = cmd.Flags().GetDuration("broker.retry-delay")

	var bus Bus
	bus.Transport, _ = cmd.Flags().GetString("bus")
	bus.DBusInterface, _ = cmd.Flags().GetString("dbus.interface")
	bus.DBusDestination, _ = cmd.Flags().GetString("dbus.destination")
	bus.DBusPath, _ = cmd.Flags().GetString("dbus.path")
	bus.NSQTopic, _ = cmd.Flags().GetString("nsq.topic")
	bus.NSQChannel, _ = cmd.Flags().GetString("nsq.channel")
	bus.NSQLookupd, _ = cmd.Flags().GetStringSlice("nsq.lookupd")
	bus.NSQD, _ = cmd.Flags().GetStringSlice("nsq.nsqd")
	bus.NSQSecret, _ = cmd.Flags().GetString("nsq.secret")
	bus.EtcdEndpoints, _ = cmd.Flags().GetStringSlice("etcd.endpoints")
	bus.EtcdPrefix, _ = cmd.Flags().GetString("etcd.prefix")
	bus.EtcdTTL, _ = cmd.Flags().GetInt64("etcd.ttl")
	bus.EtcdSelf, _ = cmd.Flags().GetString("etcd.self")

	logc := Log{Name: "rabbit-fence"}
	logc.Level, _ = cmd.Flags().GetString("log.level")
	logc.Syslog, _ = cmd.Flags().GetBool("log.syslog")

	return &Config{
		app,
		broker,
		bus,
		logc,
	}
}

// Validate checks the options for values the daemon cannot work with.
func (c *Config) Validate() error {
	if c.LockFile == "" {
		return errors.New("lock file path required")
	}
	if c.ConfigFile == "" {
		return errors.New("broker config path required")
	}
	if c.Retries < 0 {
		return fmt.Errorf("negative liveness retries: %d", c.Retries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("negative liveness retry delay: %v", c.RetryDelay)
	}
	switch c.Transport {
	case BusDBus:
		if c.DBusInterface == "" {
			return errors.New("dbus interface required")
		}
		if !dbus.ObjectPath(c.DBusPath).IsValid() {
			return fmt.Errorf("invalid dbus object path %q", c.DBusPath)
		}
	case BusNSQ:
		// Checked in depth by the transport itself
	case BusEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("no etcd endpoints configured")
		}
		if !strings.HasSuffix(c.EtcdPrefix, "/") {
			return fmt.Errorf("etcd prefix %q must end in '/'", c.EtcdPrefix)
		}
		if c.EtcdTTL < 5 {
			return fmt.Errorf("etcd lease ttl %ds too short", c.EtcdTTL)
		}
		if c.EtcdSelf == "" {
			return errors.New("etcd self address required")
		}
	default:
		return fmt.Errorf("unknown bus transport '%s'", c.Transport)
	}
	return nil
}
