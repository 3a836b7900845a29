// Package mqtt provides MQTT client connectivity for the Lutron bridge service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after every reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// *Client satisfies the lutron.MQTTClient and lutron.HealthPublisher
// interfaces directly, so each bridge's Publisher and HealthReporter share
// one broker connection.
//
// # Security Considerations
//
//   - TLS should be enabled outside the lab (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	pub := lutron.NewPublisher("main-hub", client, bridge, logger)
//	if err := pub.Start(); err != nil {
//	    log.Fatal(err)
//	}
package mqtt
