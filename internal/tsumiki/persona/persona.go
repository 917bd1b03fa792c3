// Package persona holds every user-facing phrase Tsumiki says, so the bot's
// voice lives in one place and can be re-skinned from a YAML file without
// touching code. Failure phrases are deliberately short and non-technical;
// internal errors never reach the room verbatim.
package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona bundles the LLM system prompt override and the reply strings.
// Fields containing %s placeholders are documented next to the default.
type Persona struct {
	// SystemPrompt, when set, replaces the built-in LLM persona prompt.
	SystemPrompt string `yaml:"system_prompt"`

	Replies Replies `yaml:"replies"`
}

// Replies are the canned room messages.
type Replies struct {
	NotAllowed    string `yaml:"not_allowed"`
	ParseFailed   string `yaml:"parse_failed"`
	Invalid       string `yaml:"invalid"`        // %s = guidance
	Confirm       string `yaml:"confirm"`        // %s %s %s = type, id, id
	ConfirmRisky  string `yaml:"confirm_risky"`  // %s %s %s = type, id, id
	Approved      string `yaml:"approved"`
	ApprovedRisky string `yaml:"approved_risky"`
	Denied        string `yaml:"denied"`
	Unauthorized  string `yaml:"unauthorized"`
	UnknownID     string `yaml:"unknown_id"`
	AckResult     string `yaml:"ack_result"` // %s = ack status (plus optional message)
	SendFailed    string `yaml:"send_failed"`
	QueryWait     string `yaml:"query_wait"`
	QuerySent     string `yaml:"query_sent"` // %s = ack status
	QueryFailed   string `yaml:"query_failed"`
	ChatFailed    string `yaml:"chat_failed"`
	NoState       string `yaml:"no_state"`
}

// Default returns the built-in cheerful-Japanese persona.
func Default() Persona {
	return Persona{
		Replies: Replies{
			NotAllowed:    "コマンドは許可ユーザーだけなんだ…でもチャットやステータスならいつでもOK！",
			ParseFailed:   "コマンドっぽいけど内容が分からなかったよ。`say こんにちは` や `volume 50` を試してみてね！",
			Invalid:       "その値はちょっと無理みたい…%s",
			Confirm:       "*%s* を実行してもいい？ `yes %s` か `no %s` で教えてね！",
			ConfirmRisky:  "ちょっと強めのコマンドだよ: *%s*。ほんとに実行していい？ `yes %s` か `no %s` で教えてね！",
			Approved:      "コマンド送信するね…！",
			ApprovedRisky: "ちょっと強めの操作、了解だよ！スタックチャンに送るね…！",
			Denied:        "わかった、キャンセルしたよ！",
			Unauthorized:  "この操作は許可されていないみたい…チャットやステータス確認なら大歓迎だよ！",
			UnknownID:     "その確認番号、見つからなかったよ…もう一回コマンドからお願い！",
			AckResult:     "Ack: %s",
			SendFailed:    "うまく送れなかったみたい…もう一度試してみてね。",
			QueryWait:     "最新のステータスをお願いしてくるね…ちょっと待ってて！",
			QuerySent:     "ステータスリクエストを送ったよ（%s）。更新を待ってるね！",
			QueryFailed:   "ステータスを取れなかった…もう一度お願いしてもいい？",
			ChatFailed:    "ちょっと考えがまとまらなかった…もう一回お願い！",
			NoState:       "最新ステータスがまだないみたい…！",
		},
	}
}

// Load reads a YAML persona file over the defaults. Fields absent from the
// file keep their default value. An empty path returns the defaults.
func Load(path string) (Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	return p, nil
}
