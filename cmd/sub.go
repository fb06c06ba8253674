package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hlindberg/mezquit"
)

// SubQoS is the QoS to subscribe with (0 or 1).
var SubQoS int

var subscribeCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to an MQTT topic and print received messages",

	Args: func(cmd *cobra.Command, args []string) error {
		if SubQoS < 0 || SubQoS > 1 {
			return fmt.Errorf("--qos must be 0 or 1, got %d", SubQoS)
		}
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		s := &subscriber{}
		s.run()
	},
}

type subscriber struct{}

func (s *subscriber) run() {
	c := mezquit.New(mezquit.Config{
		ClientID:    MQTTClientName,
		Server:      MQTTBroker,
		Port:        MQTTPort,
		KeepAliveS:  uint16(KeepAliveSeconds),
		CleanInit:   true,
		Clean:       false,
		OnLinkState: func(up bool) { log.Debugf("link up=%v", up) },
		OnMessage: func(topic string, payload []byte, retained bool) {
			fmt.Printf("%s: %s\n", topic, payload)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go c.Run(ctx)
	c.Connect()

	if err := c.Subscribe(ctx, Topic, byte(SubQoS)); err != nil {
		log.Errorf("subscribe failed: %v", err)
		os.Exit(1)
	}

	<-ctx.Done()
}

func init() {
	RootCmd.AddCommand(subscribeCmd)
	flags := subscribeCmd.PersistentFlags()
	flags.IntVarP(&SubQoS,
		"qos", "q", 0, "Quality of service 0-1 (default 0)")
}
