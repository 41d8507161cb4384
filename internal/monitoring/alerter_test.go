package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelproof/xaibench/internal/config"
	"github.com/modelproof/xaibench/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		QualityFloor:         0.3,
	})

	snap := &MetricsSnapshot{
		JobsCompleted: 95,
		JobsFailed:    5,
		JobFailRate:   0.05,
		QualityByMethod: map[model.Method]float64{
			model.MethodSHAP: 0.72,
			model.MethodLIME: 0.55,
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_JobFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		QualityFloor:         0.3,
	})

	snap := &MetricsSnapshot{
		JobsCompleted: 12,
		JobsFailed:    8,
		JobFailRate:   0.4, // 8/20 = 40%
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertJobFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_QualityFloor(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		QualityFloor:         0.3,
	})

	snap := &MetricsSnapshot{
		JobsCompleted: 10,
		JobFailRate:   0,
		ExplanationsByMethod: map[model.Method]int{
			model.MethodLIME: 4,
		},
		QualityByMethod: map[model.Method]float64{
			model.MethodLIME: 0.21,
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQualityFloor, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "lime")
	assert.Contains(t, alerts[0].Message, "0.210")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		QualityFloor:         0.3,
	})

	snap := &MetricsSnapshot{
		JobsCompleted: 10,
		JobsFailed:    10,
		JobFailRate:   0.5,
		QualityByMethod: map[model.Method]float64{
			model.MethodSHAP: 0.25,
			model.MethodLIME: 0.10,
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]int)
	for _, alt := range alerts {
		types[alt.Type]++
	}
	assert.Equal(t, 1, types[AlertJobFailureRate])
	assert.Equal(t, 2, types[AlertQualityFloor])
}

func TestAlerter_Evaluate_MinimumJobsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
	})

	// Only 3 finished jobs, below the 5-job minimum for the rate alert.
	snap := &MetricsSnapshot{
		JobsCompleted: 1,
		JobsFailed:    2,
		JobFailRate:   0.666,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroQualityFloorDisables(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		QualityFloor: 0, // disabled
	})

	snap := &MetricsSnapshot{
		QualityByMethod: map[model.Method]float64{
			model.MethodSHAP: 0.01,
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertJobFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertQualityFloor, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertJobFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertJobFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}
