package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{project: "lib-prod", name: "bk-notification-events", want: "projects/lib-prod/topics/bk-notification-events"},
		{project: "lib-prod", name: " projects/other/topics/x ", want: "projects/other/topics/x"},
		{project: "", name: "bk-notification-events", want: ""},
		{project: "lib-prod", name: "  ", want: ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	names := topicNames(config.PubSubConfig{NotificationTopic: "notify", DeadLetterTopic: " "})
	if len(names) != 1 || names[0] != "notify" {
		t.Fatalf("unexpected topics %v", names)
	}
}

func TestClientOptionsPrefersInlineCredentials(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{CredentialsJSON: "{}", ApplicationCredentials: "/tmp/key.json"}); len(opts) != 1 {
		t.Fatalf("expected a single credentials option, got %d", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}); len(opts) != 1 {
		t.Fatalf("expected file credentials option, got %d", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{PubSubEmulatorHost: "localhost:8085", CredentialsJSON: "{}"}); len(opts) != 3 {
		t.Fatalf("expected emulator endpoint, no-auth and insecure dial options, got %d", len(opts))
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("notify") != nil {
		t.Fatal("nil client should not hand out publishers")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping on nil client to fail")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
