package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/matterflow/pkg/events"
)

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
