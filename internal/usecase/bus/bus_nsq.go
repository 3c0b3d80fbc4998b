package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	nsq_controller "github.com/karalabe/rabbitfence/internal/controller/nsq"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/karalabe/rabbitfence/pkg/crypto"
	nsqlogger "github.com/karalabe/rabbitfence/pkg/logger"
	"github.com/nsqio/go-nsq"
)

// errClosed is returned to NSQ for messages arriving during shutdown so
// they get requeued for another consumer.
var errClosed = errors.New("bus closed")

// NSQConfig is the set of options for consuming membership events from NSQ.
type NSQConfig struct {
	Topic   string   // Topic corosync events are relayed to
	Channel string   // Consumer channel, unique per node
	Lookupd []string // nsqlookupd HTTP addresses to discover producers through
	NSQD    []string // nsqd TCP addresses to connect to directly
	Secret  string   // Shared secret for mutual TLS, plaintext if empty
}

// Validate checks that the topic and channel are acceptable to NSQ and that
// there is somewhere to connect to.
func (c NSQConfig) Validate() error {
	if !nsq.IsValidTopicName(c.Topic) {
		return fmt.Errorf("invalid bus topic '%s'", c.Topic)
	}
	if !nsq.IsValidChannelName(c.Channel) {
		return fmt.Errorf("invalid bus channel '%s', must be alphanumeric", c.Channel)
	}
	if len(c.Lookupd) == 0 && len(c.NSQD) == 0 {
		return errors.New("no nsqlookupd or nsqd address configured")
	}
	return nil
}

func (c NSQConfig) clientConfig() *nsq.Config {
	config := nsq.NewConfig()
	config.Snappy = true
	if c.Secret != "" {
		config.TlsV1 = true
		config.TlsConfig = crypto.MakeTLSConfig(crypto.MakeTLSCert(c.Secret))
	}
	return config
}

// NSQ relays membership events published on an NSQ topic.
type NSQ struct {
	consumer *nsq.Consumer
	events   chan *entity.ClusterEvent
	quit     chan struct{}
	logger   log.Logger
}

// NewNSQ creates a consumer for the configured topic and connects it.
func NewNSQ(config NSQConfig, logger log.Logger) (*NSQ, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Root()
	}
	consumer, err := nsq.NewConsumer(config.Topic, config.Channel, config.clientConfig())
	if err != nil {
		return nil, err
	}
	consumer.SetLogger(&nsqlogger.NSQConsumerLogger{Logger: logger}, nsq.LogLevelInfo)

	b := &NSQ{
		consumer: consumer,
		events:   make(chan *entity.ClusterEvent, 64),
		quit:     make(chan struct{}),
		logger:   logger,
	}
	consumer.AddHandler(nsq_controller.NewHandler(b.deliver, logger))

	if len(config.NSQD) > 0 {
		err = consumer.ConnectToNSQDs(config.NSQD)
	} else {
		err = consumer.ConnectToNSQLookupds(config.Lookupd)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect to bus: %w", err)
	}
	logger.Info("Subscribed to cluster bus", "transport", "nsq", "topic", config.Topic, "channel", config.Channel)
	return b, nil
}

func (b *NSQ) deliver(ev *entity.ClusterEvent) error {
	select {
	case b.events <- ev:
		return nil
	case <-b.quit:
		return errClosed
	}
}

// Events returns the channel membership notifications are delivered on.
func (b *NSQ) Events() <-chan *entity.ClusterEvent {
	return b.events
}

// Close stops the consumer and waits for in-flight handlers to return.
func (b *NSQ) Close() error {
	close(b.quit)
	b.consumer.Stop()
	<-b.consumer.StopChan
	return nil
}

// Publish sends a single event to the bus through the given nsqd. It is used
// to inject synthetic departures during drills.
func Publish(config NSQConfig, nsqd string, ev *entity.ClusterEvent, logger log.Logger) error {
	if !nsq.IsValidTopicName(config.Topic) {
		return fmt.Errorf("invalid bus topic '%s'", config.Topic)
	}
	if logger == nil {
		logger = log.Root()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	producer, err := nsq.NewProducer(nsqd, config.clientConfig())
	if err != nil {
		return err
	}
	defer producer.Stop()

	producer.SetLogger(&nsqlogger.NSQProducerLogger{Logger: logger}, nsq.LogLevelInfo)
	return producer.Publish(config.Topic, body)
}
