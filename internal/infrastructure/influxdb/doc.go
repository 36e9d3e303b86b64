// Package influxdb records conductor telemetry in InfluxDB v2.
//
// Every resolve pass and every executed device command becomes a point, so
// show timing can be inspected after the fact. Client satisfies the
// conductor's Telemetry interface.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	c := conductor.New(conductor.Options{Telemetry: client})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// failures are delivered to the SetOnError callback.
package influxdb
