package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Action is one variant of the queued-mutation union. Each variant carries
// its own typed payload and maps to exactly one ActionType.
type Action interface {
	ActionType() ActionType
	Validate() error
}

// SliderCalibrationPayload records a self-rating on one emotional axis.
type SliderCalibrationPayload struct {
	AxisID          int64     `json:"axisId"`
	Value           int       `json:"value"`
	Note            string    `json:"note,omitempty"`
	ClientTimestamp time.Time `json:"clientTimestamp"`
}

// ActionType implements Action.
func (SliderCalibrationPayload) ActionType() ActionType { return ActionSliderCalibration }

// Validate checks the payload shape. Business rules belong to the remote endpoint.
func (p SliderCalibrationPayload) Validate() error {
	if p.AxisID <= 0 {
		return fmt.Errorf("axisId must be positive, got %d", p.AxisID)
	}
	if p.Value < 0 || p.Value > 100 {
		return fmt.Errorf("value must be within 0..100, got %d", p.Value)
	}
	return nil
}

// CyclePhase is one of the three daily check-in phases.
type CyclePhase string

const (
	PhaseMorning CyclePhase = "morning"
	PhaseMidday  CyclePhase = "midday"
	PhaseEvening CyclePhase = "evening"
)

// DailyCycleUpdatePayload records progress on one phase of a daily cycle.
type DailyCycleUpdatePayload struct {
	CycleDate string                 `json:"cycleDate"`
	Phase     CyclePhase             `json:"phase"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ActionType implements Action.
func (DailyCycleUpdatePayload) ActionType() ActionType { return ActionDailyCycleUpdate }

// Validate checks the payload shape.
func (p DailyCycleUpdatePayload) Validate() error {
	if _, err := time.Parse(DateLayout, p.CycleDate); err != nil {
		return fmt.Errorf("cycleDate %q is not YYYY-MM-DD", p.CycleDate)
	}
	switch p.Phase {
	case PhaseMorning, PhaseMidday, PhaseEvening:
		return nil
	default:
		return fmt.Errorf("unknown phase %q", p.Phase)
	}
}

// ErrUnknownAction is returned when a type tag has no variant.
type ErrUnknownAction struct {
	Type ActionType
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

// EncodeAction validates a variant and serializes its payload.
func EncodeAction(a Action) (ActionType, json.RawMessage, error) {
	if a == nil {
		return "", nil, fmt.Errorf("nil action")
	}
	if !a.ActionType().Known() {
		return "", nil, &ErrUnknownAction{Type: a.ActionType()}
	}
	if err := a.Validate(); err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", a.ActionType(), err)
	}
	return a.ActionType(), data, nil
}

// DecodeAction recovers the typed variant for a stored type tag and payload.
// Unknown fields are rejected so a payload for one type cannot pass as another.
func DecodeAction(t ActionType, payload []byte) (Action, error) {
	var a Action
	switch t {
	case ActionSliderCalibration:
		var p SliderCalibrationPayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		a = p
	case ActionDailyCycleUpdate:
		var p DailyCycleUpdatePayload
		if err := decodeStrict(payload, &p); err != nil {
			return nil, err
		}
		a = p
	default:
		return nil, &ErrUnknownAction{Type: t}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeStrict(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
