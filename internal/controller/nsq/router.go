package nsq_controller

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/rabbitfence/internal/entity"
	"github.com/nsqio/go-nsq"
)

// NewHandler decodes bus messages into cluster events and passes them to the
// sink. Malformed messages are logged and finished so they are not requeued
// forever; a sink error requeues the message.
func NewHandler(sink func(*entity.ClusterEvent) error, logger log.Logger) nsq.Handler {
	if logger == nil {
		logger = log.Root()
	}
	return nsq.HandlerFunc(func(message *nsq.Message) error {
		var ev entity.ClusterEvent
		if err := json.Unmarshal(message.Body, &ev); err != nil {
			logger.Warn("Dropping malformed bus message", "id", string(message.ID[:]), "err", err)
			return nil
		}
		logger.Trace("Handling bus message", "id", string(message.ID[:]), "event", ev.String())
		return sink(&ev)
	})
}
