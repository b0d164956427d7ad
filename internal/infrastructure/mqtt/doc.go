// Package mqtt provides MQTT client connectivity for TagTrace Core.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// TagTrace uses MQTT as the ingestion transport between store gateways
// and the core. Gateways publish reading batches to their telemetry
// topic; the core subscribes with a wildcard pattern and feeds the same
// pipeline the HTTP ingest endpoint uses. Raised events flow back out
// on per-tag event topics and the store broadcast topic.
//
//	Gateways → MQTT Broker → TagTrace Core → per-tag event topics
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//   - The broker does not authenticate gateways to TagTrace; each
//     telemetry payload carries the gateway's bearer secret and is
//     verified by the pipeline before anything is persisted
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s with jitter
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all gateway telemetry
//	err = client.Subscribe(mqtt.Topics{}.AllGatewayTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a tag event
//	topic := mqtt.Topics{}.TagEvent("store-001", "tag-9f8e7d6c")
//	client.Publish(topic, []byte(`{"type":"theft_suspect"}`), 1, false)
package mqtt
