// Package influxdb writes bridge statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each bridge's
// health reporter writes a "lutron_bridge" point per interval (online
// flag, session count, frame counters, queue depth), tagged with the
// bridge ID and the default tags given to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	reporter := lutron.NewHealthReporter(lutron.HealthReporterConfig{
//	    Source: bridge,
//	    Stats:  client,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval.
package influxdb
