package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "tagtrace-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Client State Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("test/topic", []byte("test"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	client := &Client{
		cfg:           testConfig(),
		subscriptions: make(map[string]subscription),
	}

	err := client.Subscribe("test/topic", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestPublishEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Publish("test/topic", []byte("test"), 3, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizedPayload(t *testing.T) {
	client := &Client{cfg: testConfig()}

	payload := make([]byte, maxPayloadSize+1)
	err := client.Publish("test/topic", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Subscribe("test/topic", 3, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Subscribe("test/topic", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestUnsubscribeEmptyTopic(t *testing.T) {
	client := &Client{cfg: testConfig()}

	err := client.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

// =============================================================================
// Subscription Tracking Tests
// =============================================================================

func TestSubscriptionCount_Empty(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestHasSubscription_NotSubscribed(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if client.HasSubscription("nonexistent/topic") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gateway"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want %q", got, "tcp://127.0.0.1:1883")
	}
	if opts.ClientID != "tagtrace-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "tagtrace-test")
	}
	if opts.Username != "gateway" {
		t.Errorf("Username = %q, want %q", opts.Username, "gateway")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want %q", got, "ssl")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	if opts.WillTopic != "tagtrace/system/status" {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, "tagtrace/system/status")
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if !strings.Contains(string(opts.WillPayload), `"status":"offline"`) {
		t.Errorf("WillPayload = %q, want offline status", opts.WillPayload)
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %q, want unexpected_disconnect reason", opts.WillPayload)
	}
}

// =============================================================================
// Topics Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "GatewayTelemetry",
			builder: func() string {
				return Topics{}.GatewayTelemetry("store-001", "gw-a1b2c3d4")
			},
			expected: "tagtrace/stores/store-001/gateways/gw-a1b2c3d4/telemetry",
		},
		{
			name: "GatewayStatus",
			builder: func() string {
				return Topics{}.GatewayStatus("store-001", "gw-a1b2c3d4")
			},
			expected: "tagtrace/stores/store-001/gateways/gw-a1b2c3d4/status",
		},
		{
			name: "TagEvent",
			builder: func() string {
				return Topics{}.TagEvent("store-001", "tag-9f8e7d6c")
			},
			expected: "tagtrace/stores/store-001/tags/tag-9f8e7d6c/evt",
		},
		{
			name: "StoreBroadcast",
			builder: func() string {
				return Topics{}.StoreBroadcast("store-001")
			},
			expected: "tagtrace/stores/store-001/broadcast",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "tagtrace/system/status",
		},
		{
			name: "SystemTime",
			builder: func() string {
				return Topics{}.SystemTime()
			},
			expected: "tagtrace/system/time",
		},
		{
			name: "AllGatewayTelemetry",
			builder: func() string {
				return Topics{}.AllGatewayTelemetry()
			},
			expected: "tagtrace/stores/+/gateways/+/telemetry",
		},
		{
			name: "AllGatewayStatus",
			builder: func() string {
				return Topics{}.AllGatewayStatus()
			},
			expected: "tagtrace/stores/+/gateways/+/status",
		},
		{
			name: "AllTagEvents",
			builder: func() string {
				return Topics{}.AllTagEvents("store-001")
			},
			expected: "tagtrace/stores/store-001/tags/+/evt",
		},
		{
			name: "AllTopics",
			builder: func() string {
				return Topics{}.AllTopics()
			},
			expected: "tagtrace/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.builder()
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, result, tt.expected)
			}
		})
	}
}

func TestParseGatewayTelemetry(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		wantStore   string
		wantGateway string
		wantOK      bool
	}{
		{
			name:        "valid topic",
			topic:       "tagtrace/stores/store-001/gateways/gw-a1b2c3d4/telemetry",
			wantStore:   "store-001",
			wantGateway: "gw-a1b2c3d4",
			wantOK:      true,
		},
		{
			name:   "wrong prefix",
			topic:  "other/stores/store-001/gateways/gw-a1b2c3d4/telemetry",
			wantOK: false,
		},
		{
			name:   "status topic",
			topic:  "tagtrace/stores/store-001/gateways/gw-a1b2c3d4/status",
			wantOK: false,
		},
		{
			name:   "missing segments",
			topic:  "tagtrace/stores/store-001/telemetry",
			wantOK: false,
		},
		{
			name:   "empty gateway id",
			topic:  "tagtrace/stores/store-001/gateways//telemetry",
			wantOK: false,
		},
		{
			name:   "empty string",
			topic:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, gateway, ok := ParseGatewayTelemetry(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ParseGatewayTelemetry(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if store != tt.wantStore {
				t.Errorf("store = %q, want %q", store, tt.wantStore)
			}
			if gateway != tt.wantGateway {
				t.Errorf("gateway = %q, want %q", gateway, tt.wantGateway)
			}
		})
	}
}
