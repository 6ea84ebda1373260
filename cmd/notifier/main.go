// Command notifier consumes booking events from RabbitMQ and records one
// delivery line per event.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/iliyamo/consult-booking/internal/config"
	"github.com/iliyamo/consult-booking/internal/notify"
	"github.com/iliyamo/consult-booking/internal/queue"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

func main() {
	cfg := config.LoadNotifierConfig()
	logger := logging.New(cfg.LogLevel).With("component", "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	delivery := notify.NewFileDelivery(cfg.Dir)
	queues := []string{queue.QueueBookingConfirmed, queue.QueueBookingCancelled}
	logger.Info("consuming", "queues", queues, "dir", cfg.Dir)

	err := queue.Consume(ctx, cfg.AMQPURL, queues, delivery.Handle, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
