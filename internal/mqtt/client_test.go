package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"uwblink/internal/config"
	"uwblink/internal/types"
)

func testConfig() config.Config {
	return config.Config{
		AccessoryName: "tag-1",
		MQTTBroker:    "127.0.0.1",
		MQTTPort:      1, // nothing listens here
		MQTTClientID:  "uwblink-test",
	}
}

func TestTopics(t *testing.T) {
	if got := EventsTopic("tag-1"); got != "accessories/tag-1/events" {
		t.Errorf("EventsTopic = %q", got)
	}
	if got := StatusTopic("tag-1"); got != "accessories/tag-1/status" {
		t.Errorf("StatusTopic = %q", got)
	}
}

func TestBoundedClientID(t *testing.T) {
	tests := []struct {
		in            string
		want          string
		wantTruncated bool
	}{
		{"uwblink", "uwblink", false},
		{"uwblink-0123456789abcde", "uwblink-0123456789abcde", false},
		{"uwblink-0123456789abcdef", "uwblink-0123456789abcde", true},
	}
	for _, tt := range tests {
		got, truncated := boundedClientID(tt.in)
		if got != tt.want || truncated != tt.wantTruncated {
			t.Errorf("boundedClientID(%q) = %q, %v; want %q, %v", tt.in, got, truncated, tt.want, tt.wantTruncated)
		}
	}
}

func TestPublish_NotConnected(t *testing.T) {
	c := NewClient(testConfig(), nil)
	if err := c.PublishEvent(types.AccessoryEvent{Type: types.EventLinkUp}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent err = %v; want ErrNotConnected", err)
	}
	if err := c.PublishStatus(types.AccessoryStatus{State: "idle"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishStatus err = %v; want ErrNotConnected", err)
	}
}

func TestConnect_AfterDisconnect(t *testing.T) {
	c := NewClient(testConfig(), nil)
	c.Disconnect()
	c.Disconnect() // idempotent
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClientStopped) {
		t.Errorf("Connect err = %v; want ErrClientStopped", err)
	}
}

func TestConnect_RespectsContext(t *testing.T) {
	c := NewClient(testConfig(), nil)
	t.Cleanup(c.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect err = %v; want deadline exceeded", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true; want false")
	}
}
