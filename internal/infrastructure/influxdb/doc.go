// Package influxdb connects FPF Core to InfluxDB v2.
//
// It records sensor readings and energy samples through the batched write
// API and answers "latest value per entity" queries with Flux. The
// timeseries package adapts it to the store the energy engine reads.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("fpf_reading", map[string]string{"entity_id": "battery"},
//	    map[string]any{"value": 6400.0}, time.Now())
//
// Writes never block; async failures reach the SetOnError callback.
package influxdb
