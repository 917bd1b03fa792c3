// Package command defines the typed device commands understood by the
// Stack-chan robot, plus the interpreter that turns free chat text into them.
package command

import (
	"encoding/json"
	"fmt"
)

// Type identifies one of the seven device command kinds.
type Type string

const (
	TypeSay        Type = "say"
	TypeVolume     Type = "volume"
	TypeMotion     Type = "motion"
	TypeExpression Type = "expression"
	TypeListen     Type = "listen"
	TypeBrightness Type = "brightness"
	TypeStatus     Type = "status"
)

// Payload is the variant part of a Command. The concrete type is fully
// determined by the command Type; Kind reports the owning Type so that
// switches over payloads stay exhaustive.
type Payload interface {
	Kind() Type
}

// SayPayload carries the text the robot should speak.
type SayPayload struct {
	Text string `json:"text"`
}

// VolumePayload sets the speaker volume in percent (0-100).
type VolumePayload struct {
	Volume int `json:"volume"`
}

// MotionPayload names a motion preset (e.g. "wave", "nod").
type MotionPayload struct {
	Motion string `json:"motion"`
}

// ExpressionPayload names a face expression preset.
type ExpressionPayload struct {
	Expression string `json:"expression"`
}

// ListenPayload toggles the wake-word listener.
type ListenPayload struct {
	Listen bool `json:"listen"`
}

// BrightnessPayload sets the display brightness in percent (0-100).
type BrightnessPayload struct {
	Brightness int `json:"brightness"`
}

// StatusPayload requests a state report. It is intentionally empty.
type StatusPayload struct{}

func (SayPayload) Kind() Type        { return TypeSay }
func (VolumePayload) Kind() Type     { return TypeVolume }
func (MotionPayload) Kind() Type     { return TypeMotion }
func (ExpressionPayload) Kind() Type { return TypeExpression }
func (ListenPayload) Kind() Type     { return TypeListen }
func (BrightnessPayload) Kind() Type { return TypeBrightness }
func (StatusPayload) Kind() Type     { return TypeStatus }

// Command is a parsed, validated device command awaiting dispatch.
type Command struct {
	Type         Type
	Payload      Payload
	RequesterID  string
	OriginalText string
}

// wireCommand is the JSON shape exchanged with the confirmation surface and,
// with an id added, published on the command topic.
type wireCommand struct {
	Type         Type            `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	RequesterID  string          `json:"requesterId"`
	OriginalText string          `json:"originalText,omitempty"`
}

// MarshalJSON encodes the command with its typed payload inlined.
func (c Command) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCommand{
		Type:         c.Type,
		Payload:      payload,
		RequesterID:  c.RequesterID,
		OriginalText: c.OriginalText,
	})
}

// UnmarshalJSON decodes the command, selecting the payload type from the
// command type tag. Unknown types and payloads that do not match the tag's
// shape are errors.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}

	c.Type = w.Type
	c.Payload = payload
	c.RequesterID = w.RequesterID
	c.OriginalText = w.OriginalText
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	unmarshal := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}

	switch t {
	case TypeSay:
		p, err := unmarshal(&SayPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*SayPayload), nil
	case TypeVolume:
		p, err := unmarshal(&VolumePayload{})
		if err != nil {
			return nil, err
		}
		v := *p.(*VolumePayload)
		if v.Volume < 0 || v.Volume > 100 {
			return nil, fmt.Errorf("volume %d out of range [0,100]", v.Volume)
		}
		return v, nil
	case TypeMotion:
		p, err := unmarshal(&MotionPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*MotionPayload), nil
	case TypeExpression:
		p, err := unmarshal(&ExpressionPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*ExpressionPayload), nil
	case TypeListen:
		p, err := unmarshal(&ListenPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*ListenPayload), nil
	case TypeBrightness:
		p, err := unmarshal(&BrightnessPayload{})
		if err != nil {
			return nil, err
		}
		b := *p.(*BrightnessPayload)
		if b.Brightness < 0 || b.Brightness > 100 {
			return nil, fmt.Errorf("brightness %d out of range [0,100]", b.Brightness)
		}
		return b, nil
	case TypeStatus:
		return StatusPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", t)
	}
}

// IsDangerous reports whether the command requires explicit confirmation
// before dispatch. Volume and brightness above 80% are considered risky;
// no other command kind is.
func IsDangerous(c Command) bool {
	switch p := c.Payload.(type) {
	case VolumePayload:
		return p.Volume > DangerThreshold
	case BrightnessPayload:
		return p.Brightness > DangerThreshold
	default:
		return false
	}
}

// DangerThreshold is the percentage above which volume and brightness
// commands require confirmation. Policy constant, not derived.
const DangerThreshold = 80
