package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
)

// AppendEvent adds evt to its run's stream.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStreamKey(evt.RunID.String()),
		Values: map[string]any{
			"id":        evt.ID.String(),
			"kind":      string(evt.Kind),
			"slot_id":   evt.SlotID,
			"from":      evt.From,
			"to":        evt.To,
			"cause":     evt.Cause,
			"attempt":   evt.Attempt,
			"detail":    evt.Detail,
			"timestamp": formatTime(evt.Timestamp),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("jobpoller/redis: append event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	msgs, err := s.client.XRange(ctx, eventStreamKey(runID.String()), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(msgs))
	for _, msg := range msgs {
		evt, convErr := messageToEvent(runID, msg.Values)
		if convErr != nil {
			return nil, convErr
		}
		events = append(events, evt)
	}
	return events, nil
}

func messageToEvent(runID id.RunID, v map[string]any) (*event.Event, error) {
	field := func(name string) string {
		s, _ := v[name].(string)
		return s
	}
	eID, err := id.ParseEventID(field("id"))
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: parse event id %q: %w", field("id"), err)
	}
	attempt, _ := strconv.Atoi(field("attempt"))
	return &event.Event{
		ID:        eID,
		Kind:      event.Kind(field("kind")),
		RunID:     runID,
		SlotID:    field("slot_id"),
		From:      field("from"),
		To:        field("to"),
		Cause:     field("cause"),
		Attempt:   attempt,
		Detail:    field("detail"),
		Timestamp: parseTime(field("timestamp")),
	}, nil
}
