// Package mqtt connects FPF Core to the farm's MQTT broker.
//
// Field devices publish sensor readings and the forecasting service
// publishes action plans and state-of-charge curves; Core subscribes to
// both and publishes its own status and operator notifications. The
// broker is optional: readings can also arrive over HTTP.
//
//	fpf/{deployment}/sensor/{sensor_id}          inbound readings
//	fpf/{deployment}/forecast/plan/{action_id}   inbound action plans
//	fpf/{deployment}/forecast/soc/{consumer_id}  inbound SoC curves
//	fpf/{deployment}/notifications               outbound notifications
//	fpf/{deployment}/system/status               retained status, also the LWT
//
// Subscriptions survive reconnects: the client replays them from its own
// table once the broker session is back. Handler errors and panics are
// counted and logged, never propagated to paho.
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Deployment.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(client.Topics().AllSensorReadings(), 1, handleReading)
package mqtt
