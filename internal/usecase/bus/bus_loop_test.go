package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// drain collects events until the channel is closed, failing if it stays open.
func drain(t *testing.T, events <-chan *entity.ClusterEvent) []*entity.ClusterEvent {
	t.Helper()

	var got []*entity.ClusterEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("events channel still open after its source ended")
			return nil
		}
	}
}

func TestDBusEventsClosedOnDisconnect(t *testing.T) {
	b := &DBus{
		iface:   "org.corosync",
		signals: make(chan *dbus.Signal, 1),
		events:  make(chan *entity.ClusterEvent, 1),
		quit:    make(chan struct{}),
		logger:  quietLogger(),
	}
	go b.loop()

	b.signals <- &dbus.Signal{
		Name: "org.corosync.NodeStateChange",
		Body: []interface{}{"messaging-node-6.domain", uint32(6), "10.20.0.6", "left"},
	}
	close(b.signals)

	got := drain(t, b.Events())
	require.Len(t, got, 1)
	assert.True(t, got[0].IsDeparture())
}

func TestEtcdEventsClosedOnCancelledWatch(t *testing.T) {
	const prefix = "/rabbit-fence/nodes/"

	watch := make(chan clientv3.WatchResponse, 2)
	b := &Etcd{
		events: make(chan *entity.ClusterEvent, 1),
		logger: quietLogger(),
	}
	go b.loop(context.Background(), prefix, watch)

	watch <- clientv3.WatchResponse{Events: []*clientv3.Event{{
		Type: mvccpb.DELETE,
		Kv:   &mvccpb.KeyValue{Key: []byte(prefix + "messaging-node-6"), ModRevision: 7},
	}}}
	// Compacted watches are cancelled by etcd but the channel may stay open
	watch <- clientv3.WatchResponse{Canceled: true, CompactRevision: 5}

	got := drain(t, b.Events())
	require.Len(t, got, 1)
	assert.Equal(t, "messaging-node-6", got[0].Address)
}

func TestEtcdEventsClosedOnWatchEnd(t *testing.T) {
	watch := make(chan clientv3.WatchResponse)
	b := &Etcd{
		events: make(chan *entity.ClusterEvent, 1),
		logger: quietLogger(),
	}
	go b.loop(context.Background(), "/rabbit-fence/nodes/", watch)
	close(watch)

	assert.Empty(t, drain(t, b.Events()))
}

// introspectable answers only the introspection call, failing when down.
type introspectable struct {
	dbus.BusObject
	methods []string
	down    bool
}

func (o *introspectable) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	o.methods = append(o.methods, method)
	if o.down {
		return &dbus.Call{Err: errors.New("org.freedesktop.DBus.Error.ServiceUnknown")}
	}
	return &dbus.Call{Body: []interface{}{`<node name="/org/corosync"></node>`}}
}

func TestCheckObject(t *testing.T) {
	up := new(introspectable)
	require.NoError(t, checkObject(up))
	assert.Equal(t, []string{"org.freedesktop.DBus.Introspectable.Introspect"}, up.methods)

	assert.Error(t, checkObject(&introspectable{down: true}))
}
