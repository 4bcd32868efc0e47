package redis_test

import (
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/store/storetest"
	"github.com/xraph/jobpoller/workflow"
)

func workflowEvent(r *workflow.Run) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		Kind:      event.KindTransition,
		RunID:     r.ID,
		SlotID:    r.SlotID,
		From:      string(workflow.StateCreated),
		To:        string(workflow.StateSubmitted),
		Timestamp: storetest.T0,
	}
}
