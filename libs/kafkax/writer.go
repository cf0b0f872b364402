package kafkax

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewWriter returns a synchronous writer that routes by message key, so events
// for one key keep their order. The topic is set per message.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
}
