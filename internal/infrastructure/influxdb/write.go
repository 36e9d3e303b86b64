package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/conductor/internal/executor"
)

// Measurement names.
const (
	MeasurementResolve = "conductor_resolve"
	MeasurementCommand = "conductor_command"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// RecordResolve writes one resolve pass: how long it took, how many states
// it produced and whether it failed. t is the resolve target in Unix ms.
func (c *Client) RecordResolve(t int64, d time.Duration, states int, err error) {
	fields := map[string]any{
		"duration_ms": float64(d.Microseconds()) / 1000,
		"states":      states,
		"target_time": t,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	c.WritePoint(MeasurementResolve, map[string]string{"status": status(err)}, fields)
}

// RecordCommand writes one executed device command. Device, mode and queue
// are tags; the object ID and context stay fields to keep cardinality low.
func (c *Client) RecordCommand(deviceID string, cmd executor.Command, d time.Duration, err error) {
	mode := string(cmd.Mode)
	if mode == "" {
		mode = string(executor.ModeSalvo)
	}
	tags := map[string]string{
		"device_id": deviceID,
		"mode":      mode,
		"status":    status(err),
	}
	if cmd.IsSequential() {
		tags["queue_id"] = cmd.Queue()
	}

	fields := map[string]any{
		"duration_ms": float64(d.Microseconds()) / 1000,
		"command_id":  cmd.ID,
	}
	if cmd.Context != "" {
		fields["context"] = cmd.Context
	}
	if cmd.TimelineObjID != "" {
		fields["timeline_obj_id"] = cmd.TimelineObjID
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	c.WritePoint(MeasurementCommand, tags, fields)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Writes on a disconnected client are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func status(err error) string {
	if err != nil {
		return statusError
	}
	return statusOK
}
