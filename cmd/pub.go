package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hlindberg/mezquit"
)

var publishCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish MQTT message",
	Long: `Publishes a message via MQTT

	`,
	Run: func(cmd *cobra.Command, args []string) {
		p := &publisher{}
		p.run()
	},

	Args: func(cmd *cobra.Command, args []string) error {
		if QoS < 0 || QoS > 1 {
			return fmt.Errorf("--qos must be 0 or 1, got %d", QoS)
		}
		if KeepAliveSeconds < 0 {
			return fmt.Errorf("--keep_alive cannot be negative")
		}
		return nil
	},
}

type publisher struct{}

func (p *publisher) clientName() string {
	if MQTTClientName == "" {
		MQTTClientName = mezquit.RandomClientID()
		log.Infof("Using generated client ID %s", MQTTClientName)
	}
	return MQTTClientName
}

func (p *publisher) buildClient() *mezquit.Client {
	cfg := mezquit.Config{
		ClientID:    p.clientName(),
		Server:      MQTTBroker,
		Port:        MQTTPort,
		KeepAliveS:  uint16(KeepAliveSeconds),
		CleanInit:   true,
		Clean:       false,
		OnLinkState: func(up bool) { log.Debugf("link up=%v", up) },
	}
	if WillTopic != "" {
		cfg.Will = &mezquit.LastWill{
			Topic:   WillTopic,
			Payload: []byte(WillMessage),
			QoS:     byte(WillQoS),
			Retain:  WillRetain,
		}
	}
	return mezquit.New(cfg)
}

func (p *publisher) run() {
	c := p.buildClient()

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

	opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
	defer opCancel()

	if err := p.publishGivenMessage(opCtx, c); err != nil {
		log.Errorf("publish failed: %v", err)
		os.Exit(1)
	}

	c.Disconnect()
}

func (p *publisher) publishGivenMessage(ctx context.Context, c *mezquit.Client) error {
	if FileName == "" {
		return c.Publish(ctx, Topic, []byte(Message), Retain, byte(QoS))
	}
	return p.publishFromFile(ctx, c)
}

func (p *publisher) publishFromFile(ctx context.Context, c *mezquit.Client) error {
	f, err := os.Open(FileName)
	if err != nil {
		return fmt.Errorf("cannot open file %s: %w", FileName, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := c.Publish(ctx, r[0], []byte(r[1]), false, byte(QoS)); err != nil {
			return err
		}
	}
	return nil
}

// MQTTBroker is the MQTT host to dial
var MQTTBroker string

// MQTTPort is the MQTT port to dial
var MQTTPort int

// MQTTClientName is the MQTT client name - a short UUID by default
var MQTTClientName string

// Topic is the MQTT topic to publish to
var Topic string

// Message is the MQTT message text to publish
var Message string

// KeepAliveSeconds is the MQTT number of seconds to keep a connection alive
var KeepAliveSeconds int

// QoS is the MQTT quality of service to publish at (0 or 1 - this client never speaks QoS2)
var QoS int

// FileName the name of a file to read instead of using --topic and --message
var FileName string

// Retain indicates if the published message should be retained
var Retain bool

// WillMessage is the MQTT message text to send on a dirty disconnect
var WillMessage string

// WillTopic is the MQTT topic the will message is published to on a dirty disconnect
var WillTopic string

// WillQoS is the QoS for the delivery of the WILL message
var WillQoS int

// WillRetain is the retain flag for the WILL message publishing
var WillRetain bool

func init() {
	RootCmd.AddCommand(publishCmd)
	flags := publishCmd.PersistentFlags()

	flags.StringVarP(&MQTTBroker,
		"broker", "b", "localhost", "the MQTT Broker host to connect to (default 'localhost')")
	flags.IntVarP(&MQTTPort,
		"port", "p", 1883, "the MQTT Broker port to connect to (default 1883)")
	flags.StringVarP(&MQTTClientName,
		"client", "c", "", "the MQTT client name to use - default is a short UUID")
	flags.StringVarP(&FileName,
		"file", "f", "", "File with CSV <topic, message> lines to publish")
	flags.IntVarP(&KeepAliveSeconds,
		"keep_alive", "", 0, "sets the number of seconds to keep a connection alive")
	flags.StringVarP(&Message,
		"message", "m", "", "the message to send")
	flags.StringVarP(&Topic,
		"topic", "t", "test", "the MQTT topic to send message to (default 'test')")
	flags.IntVarP(&QoS,
		"qos", "q", 0, "Quality of service 0-1 (default 0)")
	flags.BoolVarP(&Retain,
		"retain", "r", false, "If message should be retained")
	flags.StringVarP(&WillMessage,
		"wmessage", "", "", "the will message to send when disconnect is not clean")
	flags.IntVarP(&WillQoS,
		"wqos", "", 0, "Quality of service 0-1 (default 0) for publishing of WILL message")
	flags.BoolVarP(&WillRetain,
		"wretain", "", false, "If WILL message should be retained")
	flags.StringVarP(&WillTopic,
		"wtopic", "", "", "the topic for a will message to send when disconnect is not clean")
}
