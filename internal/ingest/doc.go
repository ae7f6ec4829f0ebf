// Package ingest routes inbound MQTT traffic into the orchestration core.
//
// Sensor readings go to the scheduler, which records them and fires the
// matching sensorValue triggers. Action plans and state-of-charge curves
// published by the forecasting service go to the forecast injector.
package ingest
