package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskGeocodeWarm = "geocode.warm"

// GeocodeWarmPayload limits a warm-up run to one state; empty means all.
type GeocodeWarmPayload struct {
	State string `json:"state,omitempty"`
}

func NewGeocodeWarmTask(payload GeocodeWarmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGeocodeWarm, data), nil
}

func ParseGeocodeWarmPayload(task *asynq.Task) (GeocodeWarmPayload, error) {
	var payload GeocodeWarmPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeocodeWarmPayload{}, err
	}
	return payload, nil
}
