package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "Total notification events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_invalid_total",
		Help: "Total invalid notification events received",
	})
	deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_deliveries_total",
		Help: "Total successful deliveries",
	})
	deliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_delivery_errors_total",
		Help: "Total deliveries dropped after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, deliveries, deliveryErrors)
}

// The notifier drains the ride-notifications topic and pushes each
// event to the downstream delivery endpoint. Delivery here is still
// best-effort from the core's point of view: retries live in this
// process, and an event dropped after retries is counted and logged,
// never fed back into consensus.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2113", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-notifications"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-consensus-notifier"
	}

	endpoint := os.Getenv("NOTIFY_WEBHOOK")
	var sender Sender
	if endpoint != "" {
		sender = dispatch.NewWebhookSender(endpoint)
	} else {
		sender = &logSender{}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() { _ = r.Close() }()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var n models.Notification
		if err := json.Unmarshal(m.Value, &n); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid notification event: %v", err)
			continue
		}

		if err := deliverWithRetry(ctx, sender, n, 3, 200*time.Millisecond); err != nil {
			deliveryErrors.Inc()
			log.Printf("delivery failed for user=%s kind=%s: %v", n.UserID, n.Kind, err)
			continue
		}
		deliveries.Inc()
	}
}

// Sender is the small delivery surface we need for tests and production.
type Sender interface {
	Deliver(ctx context.Context, n models.Notification) error
}

type logSender struct{}

func (l *logSender) Deliver(ctx context.Context, n models.Notification) error {
	log.Printf("[notify] user=%s kind=%s ride=%s survey=%s", n.UserID, n.Kind, n.RideID, n.SurveyID)
	return nil
}

// deliverWithRetry pushes one notification with retry and exponential
// backoff before giving up.
func deliverWithRetry(ctx context.Context, s Sender, n models.Notification, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.Deliver(ctx, n); err != nil {
			lastErr = err
			if i == attempts-1 {
				return lastErr
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return lastErr
}
