// Package notify delivers operator notifications (energy status changes,
// forced shutdowns) to Slack, an MQTT topic and the log. Delivery through
// Multi is best effort.
package notify
