package history

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldland/miner-fleet/internal/config"
	"github.com/worldland/miner-fleet/internal/domain"
)

// MockPointWriter collects written points
type MockPointWriter struct {
	Points []*write.Point
}

func (m *MockPointWriter) WritePoint(point *write.Point) {
	m.Points = append(m.Points, point)
}

func TestObserveTransition_Success(t *testing.T) {
	mock := &MockPointWriter{}
	r := NewRecorder(mock)
	at := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	r.ObserveTransition(domain.Transition{
		Address: "10.0.0.5",
		Field:   domain.FieldCurtailment,
		Value:   "sleep",
		At:      at,
	})

	require.Len(t, mock.Points, 1)
	p := mock.Points[0]
	assert.Equal(t, Measurement, p.Name())
	assert.True(t, p.Time().Equal(at))

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "address=10.0.0.5")
	assert.Contains(t, line, "field=curtailment")
	assert.Contains(t, line, "result=ok")
	assert.Contains(t, line, "value=sleep")
	assert.Contains(t, line, "ok=true")
	assert.NotContains(t, line, "error=")
}

func TestObserveTransition_Failure(t *testing.T) {
	mock := &MockPointWriter{}
	r := NewRecorder(mock)

	r.ObserveTransition(domain.Transition{
		Address: "10.0.0.7",
		Field:   domain.FieldProfile,
		Value:   "normal",
		Err:     domain.ErrAuth,
		At:      time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
	})

	require.Len(t, mock.Points, 1)
	line := write.PointToLineProtocol(mock.Points[0], time.Second)
	assert.Contains(t, line, "result=failed")
	assert.Contains(t, line, "ok=false")
	assert.Contains(t, line, `error="device authentication failed"`)
}

func TestConnect_Disabled(t *testing.T) {
	c, err := Connect(config.InfluxDBConfig{Enabled: false}, nil)

	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrDisabled)
}
