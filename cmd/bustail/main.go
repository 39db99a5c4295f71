package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"analyticsengine/internal/dto"
	"analyticsengine/internal/model"
	"analyticsengine/internal/repository/sqlite"
	"analyticsengine/internal/service/publisher"
)

var (
	topic  string
	dbPath string
	after  int64
	follow bool
	broker string
)

var rootCmd = &cobra.Command{
	Use:   "bustail",
	Short: "Print detection events from the durable bus",
}

var sqliteCmd = &cobra.Command{
	Use:   "sqlite",
	Short: "Read events from a SQLite bus file",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open bus: %w", err)
		}
		defer db.Close()

		last, err := publisher.Tail(cmd.Context(), sqlite.NewMessageRepository(db), topic, publisher.TailOptions{
			AfterID: after,
			Follow:  follow,
		}, func(msg model.BusMessage) error {
			printEvent(fmt.Sprintf("#%d", msg.ID), msg.Payload)
			return nil
		})
		if err != nil {
			return fmt.Errorf("tail stopped after message %d: %w", last, err)
		}
		log.Printf("Last message id: %d", last)
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count events held by a SQLite bus topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.New(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open bus: %w", err)
		}
		defer db.Close()

		count, err := sqlite.NewMessageRepository(db).Count(cmd.Context(), topic)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d event(s)\n", topic, count)
		return nil
	},
}

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Subscribe to events on an MQTT broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(broker)
		opts.SetClientID("bustail-" + uuid.NewString())
		opts.SetAutoReconnect(true)

		client := mqtt.NewClient(opts)
		if err := waitToken(client.Connect(), mqttTimeout); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", broker, err)
		}
		defer client.Disconnect(250)

		token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			printEvent(fmt.Sprintf("mid=%d", msg.MessageID()), msg.Payload())
		})
		if err := waitToken(token, mqttTimeout); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		log.Printf("📨 Subscribed to %s on %s", topic, broker)

		<-cmd.Context().Done()
		return nil
	},
}

const mqttTimeout = 10 * time.Second

// waitToken turns a paho token into an error, reporting a timeout when the
// broker never answered.
func waitToken(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no answer within %v", timeout)
	}
	return token.Error()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "analytics/detections", "Topic to read")

	sqliteCmd.Flags().StringVar(&dbPath, "db", "bus.db", "SQLite bus path")
	sqliteCmd.Flags().Int64Var(&after, "after", 0, "Start after this message id")
	sqliteCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	countCmd.Flags().StringVar(&dbPath, "db", "bus.db", "SQLite bus path")
	mqttCmd.Flags().StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker")

	rootCmd.AddCommand(sqliteCmd, countCmd, mqttCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printEvent(ref string, payload []byte) {
	event, err := dto.ParseEvent(payload)
	if err != nil {
		log.Printf("⚠️  %s: unreadable event: %v", ref, err)
		return
	}

	fmt.Printf("%s %s %s detections=%d\n", ref, event.Timestamp.Format(time.RFC3339Nano), event.CameraID, len(event.Detections))
	for _, d := range event.Detections {
		fmt.Printf("    %s %s conf=%.2f track=%s\n", d.Kind, d.BBox, d.Confidence, d.TrackingID)
	}
}
