package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bdobrica/Tsumiki/common/environment"
	"github.com/bdobrica/Tsumiki/common/version"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/observability"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/sim"
)

func main() {
	fmt.Printf("Tsumiki Device Simulator %s\n\n", version.Info())

	observability.Setup(
		environment.StringOr("LOG_LEVEL", "info"),
		environment.StringOr("LOG_FORMAT", "text"),
	)

	device := sim.New(sim.Config{
		URL:           environment.StringOr("MQTT_URL", "tcp://localhost:1883"),
		CmdTopic:      environment.StringOr("STACKCHAN_CMD_TOPIC", "stackchan/cmd"),
		AckTopic:      environment.StringOr("STACKCHAN_ACK_TOPIC", "stackchan/ack"),
		StateTopic:    environment.StringOr("STACKCHAN_STATE_TOPIC", "stackchan/state"),
		StateInterval: environment.DurationOr("SIM_STATE_INTERVAL", sim.DefaultStateInterval),
	})

	if err := device.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer device.Close()

	go device.Run(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("simulator shutting down", "signal", sig)
}
