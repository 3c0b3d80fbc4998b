package bus

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/karalabe/rabbitfence/internal/entity"
)

// DBusConfig is the set of options for listening to corosync over D-Bus.
type DBusConfig struct {
	Interface   string // Signal interface to subscribe to, org.corosync
	Destination string // Bus name the startup check is addressed to
	Path        string // Object path that must be introspectable on startup
}

// DBus relays corosync membership signals from the system bus.
type DBus struct {
	conn    *dbus.Conn
	iface   string
	signals chan *dbus.Signal
	events  chan *entity.ClusterEvent
	quit    chan struct{}
	logger  log.Logger
}

// NewDBus connects to the system bus and subscribes to every signal on the
// configured interface.
func NewDBus(config DBusConfig, logger log.Logger) (*DBus, error) {
	if logger == nil {
		logger = log.Root()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	// Fail early if the bus is up but the service we depend on is not
	if err := checkObject(conn.Object(config.Destination, dbus.ObjectPath(config.Path))); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot get the D-Bus object %s %s: %w", config.Destination, config.Path, err)
	}
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(config.Interface)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", config.Interface, err)
	}
	b := &DBus{
		conn:    conn,
		iface:   config.Interface,
		signals: make(chan *dbus.Signal, 64),
		events:  make(chan *entity.ClusterEvent, 64),
		quit:    make(chan struct{}),
		logger:  logger,
	}
	conn.Signal(b.signals)
	go b.loop()

	logger.Info("Subscribed to cluster bus", "transport", "dbus", "interface", config.Interface, "path", config.Path)
	return b, nil
}

// checkObject introspects the object, proving something answers on its path.
func checkObject(obj dbus.BusObject) error {
	_, err := introspect.Call(obj)
	return err
}

// loop owns the events channel and closes it once the signal source ends,
// which godbus does when the system bus connection drops.
func (b *DBus) loop() {
	defer close(b.events)

	for {
		select {
		case sig, ok := <-b.signals:
			if !ok {
				b.logger.Warn("System bus signal stream ended")
				return
			}
			ev := SignalToEvent(b.iface, sig)
			if ev == nil {
				continue
			}
			select {
			case b.events <- ev:
			case <-b.quit:
				return
			}
		case <-b.quit:
			return
		}
	}
}

// Events returns the channel membership notifications are delivered on.
func (b *DBus) Events() <-chan *entity.ClusterEvent {
	return b.events
}

// Close unsubscribes and disconnects from the system bus.
func (b *DBus) Close() error {
	close(b.quit)
	b.conn.RemoveSignal(b.signals)
	return b.conn.Close()
}

// SignalToEvent converts a corosync signal into a cluster event. The signal
// member is the event type, body[0] the node address and body[3] the action.
// Signals from other interfaces yield nil.
func SignalToEvent(iface string, sig *dbus.Signal) *entity.ClusterEvent {
	if sig == nil {
		return nil
	}
	i := strings.LastIndexByte(sig.Name, '.')
	if i < 0 || sig.Name[:i] != iface {
		return nil
	}
	ev := &entity.ClusterEvent{
		Type: sig.Name[i+1:],
		Args: sig.Body,
	}
	if len(sig.Body) > 0 {
		ev.Address = asString(sig.Body[0])
	}
	if len(sig.Body) > 3 {
		ev.Action = asString(sig.Body[3])
	}
	return ev
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
