// Package apns turns generic notification content into APNs deliveries.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	push "github.com/tinywideclouds/go-apns-client/pkg/apns"
)

// Pusher is the subset of *push.Client the dispatcher uses.
// This allows mocking for unit tests.
type Pusher interface {
	Push(ctx context.Context, n push.Notification, deviceToken string) error
}

// Content is the platform-neutral notification a caller wants delivered.
type Content struct {
	Title    string
	Body     string
	Sound    string
	Badge    *int
	ThreadID string
}

// Receipt reports the outcome of one dispatch.
type Receipt struct {
	APNsID       string
	Sent         bool
	InvalidToken bool
	Reason       push.Reason
}

func (r Receipt) String() string {
	switch {
	case r.Sent:
		return fmt.Sprintf("sent:%s", r.APNsID)
	case r.InvalidToken:
		return fmt.Sprintf("invalid:%s reason:%s", r.APNsID, r.Reason)
	default:
		return fmt.Sprintf("failed:%s reason:%s", r.APNsID, r.Reason)
	}
}

type Dispatcher struct {
	client Pusher
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

func NewDispatcher(client Pusher, topic string, logger *slog.Logger) (*Dispatcher, error) {
	if topic == "" {
		return nil, errors.New("apns dispatcher: topic is required")
	}
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// Dispatch sends content to a single device token as a high priority alert.
// A device-category rejection is not an error: the receipt marks the token
// invalid so the caller can drop it. Every other failure is returned.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	deviceToken string,
	content Content,
	data map[string]string,
) (Receipt, error) {
	n := d.buildNotification(content, data)
	receipt := Receipt{APNsID: n.APNsID}
	log := d.logger.With("apns_id", n.APNsID)

	err := d.client.Push(ctx, n, deviceToken)
	if err == nil {
		receipt.Sent = true
		log.Debug("Notification delivered")
		return receipt, nil
	}

	var apnsErr *push.Error
	if errors.As(err, &apnsErr) {
		receipt.Reason = apnsErr.Reason
		if apnsErr.Category == push.CategoryDevice {
			// Token is dead. The caller should remove it.
			receipt.InvalidToken = true
			log.Info("Device token rejected", "reason", apnsErr.Reason)
			return receipt, nil
		}
	}

	log.Error("APNs delivery failed", "err", err)
	return receipt, fmt.Errorf("apns dispatch failed: %w", err)
}

func (d *Dispatcher) buildNotification(content Content, data map[string]string) push.Notification {
	payload := &push.IOSPayload{
		Alert: &push.IOSAlert{
			Title: content.Title,
			Body:  content.Body,
		},
		Badge:    content.Badge,
		Sound:    content.Sound,
		ThreadID: content.ThreadID,
	}
	if len(data) > 0 {
		payload.Custom = make(map[string]any, len(data))
		for k, v := range data {
			payload.Custom[k] = v
		}
	}

	return push.Notification{
		Payload:  payload,
		Topic:    d.topic,
		APNsID:   uuid.NewString(),
		Priority: push.PriorityHigh,
		PushType: push.PushTypeAlert,
	}
}
