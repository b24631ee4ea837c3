package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskInboundMessage = "pipeline.inbound_message"

type InboundMessagePayload struct {
	ProviderMessageID string    `json:"providerMessageId"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

func NewInboundMessageTask(payload InboundMessagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInboundMessage, data), nil
}

func ParseInboundMessagePayload(task *asynq.Task) (InboundMessagePayload, error) {
	var payload InboundMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return InboundMessagePayload{}, err
	}
	return payload, nil
}
