// Package events writes typed dispatch journal entries.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fitzbot/fitzbot/internal/actions"
	"github.com/fitzbot/fitzbot/internal/models"
)

// Repository is the minimal interface needed to write entries.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

func create(ctx context.Context, repo Repository, eventType models.EventType, entityType models.EntityType, entityID string, payload any) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return repo.Create(ctx, &models.Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    data,
	})
}

// LogFire records one FireEvent call as fire.matched or fire.missed.
func LogFire(ctx context.Context, repo Repository, rec actions.FireRecord) error {
	if rec.Event == "" {
		return fmt.Errorf("event name is required")
	}
	eventType := models.EventTypeFireMissed
	if rec.Matched {
		eventType = models.EventTypeFireMatched
	}
	return create(ctx, repo, eventType, models.EntityTypeEvent, rec.Event, models.FirePayload{
		FireID:  rec.ID,
		Number:  rec.Number,
		Name:    rec.Name,
		Tier:    rec.Tier,
		Actions: rec.Actions,
		Context: rec.Context,
	})
}

// LogAction records an executed action. Actions with any failed effect are
// recorded as action.failed.
func LogAction(ctx context.Context, repo Repository, res actions.ActionResult) error {
	if res.ActionID == "" {
		return fmt.Errorf("action id is required")
	}
	payload := models.ActionPayload{
		BatchID:  res.BatchID,
		ChainID:  res.ChainID,
		Event:    res.Event,
		Duration: res.Duration.String(),
	}
	for _, e := range res.Effects {
		ep := models.EffectPayload{Effect: e.Effect, Value: e.Value, Skipped: e.Skipped}
		if e.Err != nil {
			ep.Error = e.Err.Error()
		}
		payload.Effects = append(payload.Effects, ep)
	}

	eventType := models.EventTypeActionExecuted
	if !res.Success() {
		eventType = models.EventTypeActionFailed
	}
	return create(ctx, repo, eventType, models.EntityTypeAction, res.ActionID, payload)
}

// LogReload records a configuration reload attempt.
func LogReload(ctx context.Context, repo Repository, path string, files []string, events int, reloadErr error) error {
	payload := models.ReloadPayload{Files: files, Events: events}
	eventType := models.EventTypeConfigReloaded
	if reloadErr != nil {
		eventType = models.EventTypeConfigReloadFailed
		payload.Error = reloadErr.Error()
	}
	return create(ctx, repo, eventType, models.EntityTypeConfig, path, payload)
}

// LogAudioToggled records an allowAudio change.
func LogAudioToggled(ctx context.Context, repo Repository, allowed bool) error {
	return create(ctx, repo, models.EventTypeAudioToggled, models.EntityTypeSystem, "audio", models.AudioPayload{Allowed: allowed})
}

// Journal adapts a Repository to the action queue's journal hook.
type Journal struct {
	Repo Repository
}

var _ actions.Journal = Journal{}

// RecordFire implements actions.Journal.
func (j Journal) RecordFire(ctx context.Context, rec actions.FireRecord) error {
	return LogFire(ctx, j.Repo, rec)
}

// RecordAction implements actions.Journal.
func (j Journal) RecordAction(ctx context.Context, res actions.ActionResult) error {
	return LogAction(ctx, j.Repo, res)
}
