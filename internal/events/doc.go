// Package events publishes supervisor lifecycle events.
//
// Every registration, rebuild, failed rebuild, removal and shutdown produces an
// Event. Sinks deliver them to zap (LogSink), to a Redis stream (RedisSink,
// XADD with a JSON "data" field) or to an MQTT broker (MQTTSink). Multi fans
// an event out to several sinks.
package events
