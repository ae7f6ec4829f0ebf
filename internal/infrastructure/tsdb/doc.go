// Package tsdb connects FPF Core to VictoriaMetrics.
//
// Points are written as InfluxDB line protocol to /write in batches, and
// the latest value per entity is read back with a PromQL instant query
// (last_over_time). Only net/http is needed: VictoriaMetrics speaks both
// protocols over plain HTTP.
//
//	client, err := tsdb.Connect(ctx, cfg.TSDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("fpf_reading", map[string]string{"entity_id": "battery"},
//	    map[string]any{"value": 6400.0}, time.Now())
//
// Flush failures are delivered to the SetOnError callback.
package tsdb
