package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func TestFollowUpCallPayloadRoundTrip(t *testing.T) {
	payload := FollowUpCallPayload{
		OrganizationID: uuid.NewString(),
		LeadID:         uuid.NewString(),
	}

	task, err := NewFollowUpCallTask(payload)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskFollowUpCall {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	parsed, err := ParseFollowUpCallPayload(task)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != payload {
		t.Fatalf("payload round trip mismatch: %+v != %+v", parsed, payload)
	}
}

func TestParseFollowUpCallPayloadRejectsGarbage(t *testing.T) {
	task := asynq.NewTask(TaskFollowUpCall, []byte("not json"))
	if _, err := ParseFollowUpCallPayload(task); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestScheduleFollowUpEnqueues(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	client, err := NewClient(Options{RedisURL: "redis://" + mr.Addr(), Queue: "followups"})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.ScheduleFollowUp(context.Background(), uuid.New(), uuid.New(), 4*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	var scheduled bool
	for _, key := range mr.Keys() {
		if strings.Contains(key, "followups") && strings.Contains(key, "scheduled") {
			scheduled = true
		}
	}
	if !scheduled {
		t.Fatalf("expected a scheduled task key in redis, got %v", mr.Keys())
	}
}

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error without redis url")
	}
}
