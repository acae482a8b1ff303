package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskNewLead = "conductor.new_lead"

const TaskInboundReply = "conductor.inbound_reply"

const TaskOptOut = "conductor.opt_out"

type NewLeadPayload struct {
	TenantID     string    `json:"tenantId"`
	Phone        string    `json:"phone"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Email        string    `json:"email,omitempty"`
	Address      string    `json:"address,omitempty"`
	StateCode    string    `json:"stateCode,omitempty"`
	Timezone     string    `json:"timezone,omitempty"`
	Source       string    `json:"source"`
	ConsentBasis string    `json:"consentBasis"`
	InboundText  string    `json:"inboundText,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

type InboundReplyPayload struct {
	TenantID          string    `json:"tenantId"`
	LeadID            string    `json:"leadId"`
	Text              string    `json:"text"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type OptOutPayload struct {
	TenantID          string `json:"tenantId"`
	LeadID            string `json:"leadId"`
	Method            string `json:"method"`
	Text              string `json:"text,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

func NewNewLeadTask(payload NewLeadPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNewLead, data), nil
}

func ParseNewLeadPayload(task *asynq.Task) (NewLeadPayload, error) {
	var payload NewLeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NewLeadPayload{}, err
	}
	return payload, nil
}

func NewInboundReplyTask(payload InboundReplyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInboundReply, data), nil
}

func ParseInboundReplyPayload(task *asynq.Task) (InboundReplyPayload, error) {
	var payload InboundReplyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return InboundReplyPayload{}, err
	}
	return payload, nil
}

func NewOptOutTask(payload OptOutPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOptOut, data), nil
}

func ParseOptOutPayload(task *asynq.Task) (OptOutPayload, error) {
	var payload OptOutPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OptOutPayload{}, err
	}
	return payload, nil
}
