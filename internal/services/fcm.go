package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"cleancity-backend/internal/models"
	"cleancity-backend/internal/notify"
	"cleancity-backend/internal/store"
)

// Messenger is the slice of the FCM client the push sink uses
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMService pushes stored notifications to every device a user registered
type FCMService struct {
	client Messenger
	tokens store.NotificationRepository
}

var _ notify.Sink = (*FCMService)(nil)

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(credentialsFile string, tokens store.NotificationRepository) (*FCMService, error) {
	return newFCMService(option.WithCredentialsFile(credentialsFile), tokens)
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials.
// Used on hosts where a credentials file cannot be uploaded.
func NewFCMServiceFromBase64(credentialsBase64 string, tokens store.NotificationRepository) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(option.WithCredentialsJSON(credentialsJSON), tokens)
}

func newFCMService(opt option.ClientOption, tokens store.NotificationRepository) (*FCMService, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return NewFCMServiceWithClient(client, tokens), nil
}

func NewFCMServiceWithClient(client Messenger, tokens store.NotificationRepository) *FCMService {
	return &FCMService{client: client, tokens: tokens}
}

// Deliver sends n to the recipient's registered devices. Users without a
// device are skipped silently.
func (s *FCMService) Deliver(ctx context.Context, n *models.Notification) error {
	devices, err := s.tokens.ListDeviceTokens(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load FCM tokens: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}

	androidPriority := "normal"
	if n.Priority == models.NotificationHigh {
		androidPriority = "high"
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: map[string]string{
			"type":            n.Type,
			"notification_id": n.ID,
			"related":         n.RelatedEntity,
			"priority":        n.Priority,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("📤 FCM %s to %s: %d success, %d failures", n.Type, n.RecipientID, response.SuccessCount, response.FailureCount)
	return nil
}
