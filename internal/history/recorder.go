package history

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/worldland/miner-fleet/internal/domain"
)

// Measurement is the InfluxDB measurement holding transition attempts
const Measurement = "miner_transition"

// PointWriter accepts points for asynchronous delivery.
// api.WriteAPI satisfies it.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder writes one point per attempted transition
type Recorder struct {
	writer PointWriter
}

var _ domain.TransitionObserver = (*Recorder)(nil)

// NewRecorder creates a recorder writing to w
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w}
}

// ObserveTransition implements domain.TransitionObserver
func (r *Recorder) ObserveTransition(t domain.Transition) {
	result := "ok"
	fields := map[string]interface{}{
		"ok": t.OK(),
	}
	if t.Err != nil {
		result = "failed"
		fields["error"] = t.Err.Error()
	}

	point := write.NewPoint(
		Measurement,
		map[string]string{
			"address": t.Address,
			"field":   string(t.Field),
			"value":   t.Value,
			"result":  result,
		},
		fields,
		t.At,
	)
	r.writer.WritePoint(point)
}
