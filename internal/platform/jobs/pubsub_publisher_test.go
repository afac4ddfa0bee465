package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sortimate/api/internal/services"
)

func TestPubSubModerationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "moderation-jobs")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubModerationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubModerationPublisher: %v", err)
	}

	reportedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := services.ModerationJobMessage{
		AlertID:                 "alert-1",
		BinID:                   "bin_001",
		UserID:                  "user-1",
		OriginalIdentification:  "plastic",
		CorrectedIdentification: "glass",
		ReportedAt:              reportedAt,
	}

	if _, err := publisher.PublishModerationJob(ctx, msg); err != nil {
		t.Fatalf("PublishModerationJob: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ModerationJobMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.AlertID != msg.AlertID || payload.CorrectedIdentification != msg.CorrectedIdentification {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["alertId"]; attr != "alert-1" {
		t.Fatalf("expected alertId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["type"]; attr != "sensor_error" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
}

func TestNewPubSubModerationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubModerationPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
