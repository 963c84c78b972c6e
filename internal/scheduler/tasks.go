// Package scheduler provides delayed task scheduling on asynq/redis. The
// orchestrator enqueues follow-up call tasks here; cmd/worker consumes them.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskFollowUpCall = "calls.follow_up"

type FollowUpCallPayload struct {
	OrganizationID string `json:"organizationId"`
	LeadID         string `json:"leadId"`
}

func NewFollowUpCallTask(payload FollowUpCallPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFollowUpCall, data), nil
}

func ParseFollowUpCallPayload(task *asynq.Task) (FollowUpCallPayload, error) {
	var payload FollowUpCallPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return FollowUpCallPayload{}, err
	}
	return payload, nil
}
