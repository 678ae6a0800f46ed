package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/models"
)

type fakeRepo struct {
	events []*models.Event
}

func (r *fakeRepo) Create(ctx context.Context, event *models.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRepo) last() *models.Event {
	return r.events[len(r.events)-1]
}

func TestLogFire(t *testing.T) {
	repo := &fakeRepo{}
	j := Journal{Repo: repo}

	if err := j.RecordFire(context.Background(), actions.FireRecord{
		ID: "f1", Event: "bits", Number: actions.Num(150), Tier: "100", Matched: true, Actions: 2,
	}); err != nil {
		t.Fatalf("RecordFire failed: %v", err)
	}
	if repo.last().Type != models.EventTypeFireMatched {
		t.Fatalf("unexpected event type: %q", repo.last().Type)
	}
	if repo.last().EntityID != "bits" {
		t.Fatalf("unexpected entity id: %q", repo.last().EntityID)
	}
	var payload models.FirePayload
	if err := json.Unmarshal(repo.last().Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Tier != "100" || *payload.Number != 150 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if err := LogFire(context.Background(), repo, actions.FireRecord{Event: "raid"}); err != nil {
		t.Fatalf("LogFire failed: %v", err)
	}
	if repo.last().Type != models.EventTypeFireMissed {
		t.Fatalf("unexpected event type: %q", repo.last().Type)
	}

	if err := LogFire(context.Background(), repo, actions.FireRecord{}); err == nil {
		t.Fatal("expected error for missing event name")
	}
}

func TestLogAction(t *testing.T) {
	repo := &fakeRepo{}
	err := Journal{Repo: repo}.RecordAction(context.Background(), actions.ActionResult{
		ActionID: "a1",
		BatchID:  "b1",
		Event:    "follow",
		Duration: 5 * time.Millisecond,
		Effects: []actions.EffectResult{
			{Effect: "sound", Value: "missing.mp3", Err: errors.New("not found")},
			{Effect: "say", Value: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("RecordAction failed: %v", err)
	}
	if repo.last().Type != models.EventTypeActionFailed {
		t.Fatalf("unexpected event type: %q", repo.last().Type)
	}
	var payload models.ActionPayload
	if err := json.Unmarshal(repo.last().Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.Effects) != 2 || payload.Effects[0].Error != "not found" || payload.Duration != "5ms" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLogReloadAndAudio(t *testing.T) {
	repo := &fakeRepo{}
	ctx := context.Background()

	if err := LogReload(ctx, repo, "events.yaml", []string{"events.yaml"}, 3, nil); err != nil {
		t.Fatal(err)
	}
	if repo.last().Type != models.EventTypeConfigReloaded {
		t.Fatalf("unexpected event type: %q", repo.last().Type)
	}
	if err := LogReload(ctx, repo, "events.yaml", nil, 0, errors.New("bad yaml")); err != nil {
		t.Fatal(err)
	}
	if repo.last().Type != models.EventTypeConfigReloadFailed {
		t.Fatalf("unexpected event type: %q", repo.last().Type)
	}
	if err := LogAudioToggled(ctx, repo, false); err != nil {
		t.Fatal(err)
	}
	if repo.last().EntityID != "audio" {
		t.Fatalf("unexpected entity id: %q", repo.last().EntityID)
	}
	if err := LogAudioToggled(ctx, nil, true); err == nil {
		t.Fatal("expected error for nil repository")
	}
}
