package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fitzbot/fitzbot/internal/eventmap"
)

// Effect names, in evaluation order.
const (
	EffectBeforeDelay  = "beforeDelay"
	EffectScene        = "scene"
	EffectSound        = "sound"
	EffectLight        = "light"
	EffectHue          = "hue"
	EffectWebsocket    = "websocket"
	EffectNotification = "notification"
	EffectSay          = "say"
	EffectVariable     = "variable"
	EffectSpeak        = "speak"
	EffectDelay        = "delay"
)

var effectOrder = []string{
	EffectBeforeDelay, EffectScene, EffectSound, EffectLight, EffectHue, EffectWebsocket,
	EffectNotification, EffectSay, EffectVariable, EffectSpeak, EffectDelay,
}

const hueRange = 65535

var errNoCollaborator = errors.New("no collaborator configured")

// NotificationMessage is the observer payload for a notification effect.
type NotificationMessage struct {
	Notification eventmap.Notification `json:"notification"`
}

// HueMessage is the observer payload for a bare hue effect, normalized to 0-1.
type HueMessage struct {
	Hue float64 `json:"hue"`
}

// runAction evaluates one action's effects in fixed order. Each effect is
// isolated; a failure is logged and the remaining effects still run.
func (q *Queue) runAction(a *Action) ActionResult {
	result := ActionResult{
		ActionID: a.ID,
		BatchID:  a.BatchID,
		Event:    a.Event,
		Started:  time.Now().UTC(),
	}

	var variables map[string]any
	if q.variables != nil {
		variables = q.variables.Fields()
	}
	fields := a.Merged(variables)

	log := q.logger.With().Str("action_id", a.ID).Str("event", a.Event).Logger()

	// Effects come from the literal fields only; the lower layers are
	// template data.
	fx, invalid := eventmap.DecodeEachEffect(a.Fields)

	ctx := q.ctx
	add := func(effect string, value any, err error) {
		r := EffectResult{Effect: effect, Value: describe(value), Err: err}
		if err != nil {
			log.Warn().Err(err).Str("effect", effect).Str("value", r.Value).Msg("effect failed")
		}
		result.Effects = append(result.Effects, r)
	}
	for _, effect := range effectOrder {
		if err, ok := invalid[effect]; ok {
			add(effect, a.Fields[effect], fmt.Errorf("decode %s: %w", effect, err))
		}
	}
	skip := func(effect string, value any) {
		result.Effects = append(result.Effects, EffectResult{Effect: effect, Value: describe(value), Skipped: true})
	}
	render := func(text string) string {
		out, err := Render(text, fields)
		if err != nil {
			log.Warn().Err(err).Msg("template failed, using raw text")
			return text
		}
		return out
	}

	if fx.BeforeDelay != nil {
		q.sleep(*fx.BeforeDelay)
		add(EffectBeforeDelay, formatFloat(*fx.BeforeDelay), nil)
	}

	if fx.Scene != "" {
		if q.lights == nil {
			add(EffectScene, fx.Scene, errNoCollaborator)
		} else {
			add(EffectScene, fx.Scene, q.lights.SetScene(ctx, fx.Scene))
		}
	}

	if fx.Sound != "" {
		switch {
		case !q.allowAudio.Load():
			skip(EffectSound, fx.Sound)
		case q.sounds == nil:
			add(EffectSound, fx.Sound, errNoCollaborator)
		default:
			add(EffectSound, fx.Sound, q.sounds.PlaySound(ctx, fx.Sound))
		}
	}

	if fx.Light != nil {
		color := lightColor(fx.Light)
		if q.lights == nil {
			add(EffectLight, a.Fields[EffectLight], errNoCollaborator)
		} else {
			add(EffectLight, a.Fields[EffectLight], q.lights.PickColor(ctx, color))
		}
	}

	if fx.Hue != nil {
		value := formatFloat(*fx.Hue)
		var err error
		if q.lights == nil {
			err = errNoCollaborator
		} else {
			h := scaleHue(*fx.Hue, 1000)
			err = q.lights.PickColor(ctx, Color{Hue: &h})
		}
		if bcErr := q.broadcastJSON(HueMessage{Hue: *fx.Hue / 1000}); bcErr != nil {
			err = errors.Join(err, bcErr)
		}
		add(EffectHue, value, err)
	}

	if fx.Websocket != "" {
		if q.observers == nil {
			add(EffectWebsocket, fx.Websocket, errNoCollaborator)
		} else {
			q.observers.Broadcast([]byte(fx.Websocket))
			add(EffectWebsocket, fx.Websocket, nil)
		}
	}

	if fx.Notification != nil {
		note := *fx.Notification
		note.Text = render(note.Text)
		add(EffectNotification, note.Text, q.broadcastJSON(NotificationMessage{Notification: note}))
	}

	if fx.Say != "" {
		text := render(fx.Say)
		if q.chat == nil {
			add(EffectSay, text, errNoCollaborator)
		} else {
			add(EffectSay, text, q.chat.Say(ctx, text))
		}
	}

	if op := fx.Variable; op != nil && op.Name != "" && (op.Set != nil || op.Offset != nil) {
		var err error
		var value float64
		switch {
		case q.variables == nil:
			err = errNoCollaborator
		case op.Set != nil:
			value = *op.Set
			err = q.variables.Set(op.Name, value)
		default:
			value, err = q.variables.Offset(op.Name, *op.Offset)
		}
		add(EffectVariable, op.Name+"="+formatFloat(value), err)
	}

	if fx.Speak != "" {
		switch {
		case !q.allowAudio.Load():
			skip(EffectSpeak, fx.Speak)
		case q.speaker == nil:
			add(EffectSpeak, fx.Speak, errNoCollaborator)
		default:
			text := render(fx.Speak)
			add(EffectSpeak, text, q.speaker.Speak(ctx, text))
		}
	}

	if fx.Delay != nil {
		q.sleep(*fx.Delay)
		add(EffectDelay, formatFloat(*fx.Delay), nil)
	}

	result.Duration = time.Since(result.Started)
	return result
}

func (q *Queue) broadcastJSON(v any) error {
	if q.observers == nil {
		return errNoCollaborator
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q.observers.Broadcast(payload)
	return nil
}

// sleep waits units of the configured delay. Only Close interrupts it.
func (q *Queue) sleep(units float64) {
	if units <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(units * float64(q.config.DelayUnit)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.ctx.Done():
	}
}

// lightColor converts a light effect, whose hue is in degrees.
func lightColor(l *eventmap.Light) Color {
	color := Color{Bri: l.Bri, Sat: l.Sat, On: l.On}
	if l.Hue != nil {
		h := scaleHue(*l.Hue, 360)
		color.Hue = &h
	}
	return color
}

// scaleHue maps value on [0, full] onto the bridge's hue range.
func scaleHue(value, full float64) int {
	return int(math.Round(value / full * hueRange))
}
