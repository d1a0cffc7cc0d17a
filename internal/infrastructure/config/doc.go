// Package config loads and validates configuration for the decoder adapter.
//
// Configuration is layered: hardcoded defaults, then an optional YAML file,
// then environment variables. In-cluster deployments normally configure the
// adapter entirely through the environment:
//
//	DEVICE_IP, DEVICE_PORT, DEVICE_USER, DEVICE_PASS
//	HTTP_HOST, HTTP_PORT
//	MQTT_BROKER, MQTT_BROKER_PORT, MQTT_BROKER_USERNAME, MQTT_BROKER_PASSWORD
//	MQTT_TOPIC_PREFIX
//	EDGEDEVICE_NAME, EDGEDEVICE_NAMESPACE
//	CONFIG_MOUNT_PATH
//	LOG_LEVEL
//
// The mounted instruction file (CONFIG_MOUNT_PATH/instructions) is parsed
// separately by the instructions package.
package config
