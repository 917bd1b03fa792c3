package command

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Intent classifies a chat message before any command parsing happens.
type Intent string

const (
	IntentChat    Intent = "CHAT"
	IntentQuery   Intent = "QUERY"
	IntentCommand Intent = "COMMAND"
)

var commandKeywords = []string{
	"say", "volume", "motion", "expression", "listen", "brightness", "status",
}

// queryKeywords trigger a state lookup. The Japanese entries match what
// owners actually type at the robot (brightness, temperature, battery).
var queryKeywords = []string{
	"status", "state", "battery", "temperature", "明るさ", "温度", "バッテリー",
}

// GuessIntent classifies text as QUERY, COMMAND or CHAT. Query keywords win
// over command keywords; anything else is chat.
func GuessIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, k := range queryKeywords {
		if strings.Contains(lower, k) {
			return IntentQuery
		}
	}
	for _, k := range commandKeywords {
		if strings.Contains(lower, k) {
			return IntentCommand
		}
	}
	return IntentChat
}

// ErrNoCommand is returned by ParseText when the text matches none of the
// recognized command patterns. Callers should use errors.Is to distinguish
// this expected case from validation errors.
var ErrNoCommand = errors.New("text does not contain a recognizable command")

var (
	volumeRe     = regexp.MustCompile(`volume\s+(\d{1,3})`)
	motionRe     = regexp.MustCompile(`motion\s+([a-z0-9_-]+)`)
	expressionRe = regexp.MustCompile(`expression\s+([a-z0-9_-]+)`)
	brightnessRe = regexp.MustCompile(`brightness\s+(\d{1,3})`)
)

// ParseText turns free text into a typed Command. Patterns are tried in a
// fixed order and the first match wins; matching is case-insensitive.
// Out-of-range volume/brightness values are rejected, never clamped.
func ParseText(text, requesterID string) (Command, error) {
	lower := strings.ToLower(text)

	cmd := func(t Type, p Payload) Command {
		return Command{Type: t, Payload: p, RequesterID: requesterID, OriginalText: text}
	}

	if strings.HasPrefix(lower, "say ") {
		content := strings.TrimSpace(text[4:])
		if content == "" {
			return Command{}, errors.New("say needs something to say")
		}
		return cmd(TypeSay, SayPayload{Text: content}), nil
	}

	if m := volumeRe.FindStringSubmatch(lower); m != nil {
		volume, err := strconv.Atoi(m[1])
		if err != nil || volume < 0 || volume > 100 {
			return Command{}, errors.New("volume must be between 0 and 100")
		}
		return cmd(TypeVolume, VolumePayload{Volume: volume}), nil
	}

	if m := motionRe.FindStringSubmatch(lower); m != nil {
		return cmd(TypeMotion, MotionPayload{Motion: m[1]}), nil
	}

	if m := expressionRe.FindStringSubmatch(lower); m != nil {
		return cmd(TypeExpression, ExpressionPayload{Expression: m[1]}), nil
	}

	if m := brightnessRe.FindStringSubmatch(lower); m != nil {
		brightness, err := strconv.Atoi(m[1])
		if err != nil || brightness < 0 || brightness > 100 {
			return Command{}, errors.New("brightness must be between 0 and 100")
		}
		return cmd(TypeBrightness, BrightnessPayload{Brightness: brightness}), nil
	}

	if strings.Contains(lower, "listen on") {
		return cmd(TypeListen, ListenPayload{Listen: true}), nil
	}
	if strings.Contains(lower, "listen off") {
		return cmd(TypeListen, ListenPayload{Listen: false}), nil
	}

	for _, k := range queryKeywords {
		if strings.Contains(lower, k) {
			return cmd(TypeStatus, StatusPayload{}), nil
		}
	}

	return Command{}, ErrNoCommand
}
