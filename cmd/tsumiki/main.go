package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bdobrica/Tsumiki/common/environment"
	"github.com/bdobrica/Tsumiki/common/version"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/app"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/bus"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/matrix"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/observability"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/trello"
)

func main() {
	fmt.Printf("Tsumiki Stack-chan Bridge %s\n\n", version.Info())

	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tsumiki, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Tsumiki: %v\n", err)
		os.Exit(1)
	}
	defer tsumiki.Stop()

	if err := tsumiki.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Tsumiki: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the application config from environment variables.
// Only the chat-platform and LLM credentials are hard requirements; the bus
// falls back to a local broker and the Trello poller simply stays disabled
// without its keys.
func loadConfig() (app.Config, error) {
	homeserver, err := environment.RequiredString("MATRIX_HOMESERVER")
	if err != nil {
		return app.Config{}, err
	}
	userID, err := environment.RequiredString("MATRIX_USER_ID")
	if err != nil {
		return app.Config{}, err
	}
	accessToken, err := environment.RequiredString("MATRIX_ACCESS_TOKEN")
	if err != nil {
		return app.Config{}, err
	}
	rooms := environment.StringSliceOr("MATRIX_ROOMS", nil)
	if len(rooms) == 0 {
		return app.Config{}, fmt.Errorf("required environment variable %q is not set", "MATRIX_ROOMS")
	}
	apiKey, err := environment.RequiredString("OPENAI_API_KEY")
	if err != nil {
		return app.Config{}, err
	}

	return app.Config{
		Bus: bus.Config{
			URL:         environment.StringOr("MQTT_URL", "tcp://localhost:1883"),
			Username:    environment.StringOr("MQTT_USERNAME", ""),
			Password:    environment.StringOr("MQTT_PASSWORD", ""),
			CmdTopic:    environment.StringOr("STACKCHAN_CMD_TOPIC", "stackchan/cmd"),
			AckTopic:    environment.StringOr("STACKCHAN_ACK_TOPIC", "stackchan/ack"),
			StateTopic:  environment.StringOr("STACKCHAN_STATE_TOPIC", "stackchan/state"),
			AckTimeout:  environment.DurationOr("CMD_TIMEOUT", bus.DefaultAckTimeout),
			MaxAttempts: environment.IntOr("CMD_MAX_ATTEMPTS", bus.DefaultMaxAttempts),
			BaseDelay:   environment.DurationOr("CMD_BASE_DELAY", bus.DefaultBaseDelay),
		},
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
			Rooms:       rooms,
		},
		Trello: trello.Config{
			Key:           environment.StringOr("TRELLO_KEY", ""),
			Token:         environment.StringOr("TRELLO_TOKEN", ""),
			BoardID:       environment.StringOr("TRELLO_BOARD_ID", ""),
			Interval:      environment.DurationOr("TRELLO_POLL_INTERVAL", 5*time.Minute),
			DueSoonWindow: time.Duration(environment.IntOr("TRELLO_DUE_SOON_MINUTES", 120)) * time.Minute,
			NotifyTopic:   environment.StringOr("TRELLO_NOTIFY_TOPIC", "stackchan/trello"),
			CmdTopic:      environment.StringOr("STACKCHAN_CMD_TOPIC", "stackchan/cmd"),
			SayViaCmd:     environment.BoolOr("TRELLO_SAY_VIA_CMD", false),
		},
		AllowedUserIDs: environment.StringSliceOr("ALLOWED_USER_IDS", nil),
		ConfirmAll:     environment.BoolOr("CONFIRM_ALL_COMMANDS", false),
		PersonaFile:    environment.StringOr("PERSONA_FILE", ""),
		OpenAIAPIKey:   apiKey,
		OpenAIModel:    environment.StringOr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  environment.StringOr("OPENAI_BASE_URL", ""),
	}, nil
}
