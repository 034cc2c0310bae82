package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordAPICall(t *testing.T) {
	tests := []struct {
		name      string
		site      string
		action    string
		duration  float64
		success   bool
		errorCode string
	}{
		{
			name:     "successful API call",
			site:     "en:wikipedia",
			action:   "query",
			duration: 0.1,
			success:  true,
		},
		{
			name:      "failed API call with error code",
			site:      "de:wikipedia",
			action:    "edit",
			duration:  0.5,
			success:   false,
			errorCode: "protectedpage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordAPICall(tt.site, tt.action, tt.duration, tt.success, tt.errorCode)

			status := "success"
			if !tt.success {
				status = "error"
			}
			counter, err := APIRequestsTotal.GetMetricWithLabelValues(tt.site, tt.action, status)
			if err != nil {
				t.Fatalf("failed to get metric: %v", err)
			}

			var m dto.Metric
			if err := counter.Write(&m); err != nil {
				t.Fatalf("failed to write metric: %v", err)
			}
			if m.Counter.GetValue() < 1 {
				t.Error("expected counter to be incremented")
			}

			if tt.errorCode != "" {
				errCounter, err := APIErrors.GetMetricWithLabelValues(tt.site, tt.action, tt.errorCode)
				if err != nil {
					t.Fatalf("failed to get error metric: %v", err)
				}

				var em dto.Metric
				if err := errCounter.Write(&em); err != nil {
					t.Fatalf("failed to write error metric: %v", err)
				}
				if em.Counter.GetValue() < 1 {
					t.Error("expected error counter to be incremented")
				}
			}
		})
	}
}

func TestRecordRetry(t *testing.T) {
	before := getLabeledCounter(t, APIRetries, "en:wikipedia", "query")
	RecordRetry("en:wikipedia", "query")
	after := getLabeledCounter(t, APIRetries, "en:wikipedia", "query")
	if after != before+1 {
		t.Errorf("retry counter = %v, want %v", after, before+1)
	}
}

func TestSetThrottleDelay(t *testing.T) {
	SetThrottleDelay("en:wikipedia", 0.25)

	gauge, err := ThrottleDelay.GetMetricWithLabelValues("en:wikipedia")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var m dto.Metric
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if m.Gauge.GetValue() != 0.25 {
		t.Errorf("expected throttle delay 0.25, got %v", m.Gauge.GetValue())
	}

	SetThrottleDelay("en:wikipedia", 1.5)
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if m.Gauge.GetValue() != 1.5 {
		t.Errorf("expected throttle delay 1.5, got %v", m.Gauge.GetValue())
	}
}

func TestRecordTokenRefresh(t *testing.T) {
	before := getLabeledCounter(t, TokenRefreshes, "en:wikipedia", "csrf")
	RecordTokenRefresh("en:wikipedia", "csrf")
	after := getLabeledCounter(t, TokenRefreshes, "en:wikipedia", "csrf")
	if after != before+1 {
		t.Errorf("token refresh counter = %v, want %v", after, before+1)
	}
}

func TestRecordLogin(t *testing.T) {
	beforeOK := getLabeledCounter(t, Logins, "en:wikipedia", "success")
	beforeFail := getLabeledCounter(t, Logins, "en:wikipedia", "failure")

	RecordLogin("en:wikipedia", true)
	RecordLogin("en:wikipedia", false)

	if got := getLabeledCounter(t, Logins, "en:wikipedia", "success"); got != beforeOK+1 {
		t.Errorf("login success counter = %v, want %v", got, beforeOK+1)
	}
	if got := getLabeledCounter(t, Logins, "en:wikipedia", "failure"); got != beforeFail+1 {
		t.Errorf("login failure counter = %v, want %v", got, beforeFail+1)
	}
}

func TestRecordEdit(t *testing.T) {
	before := getLabeledCounter(t, EditOperations, "en:wikipedia", "edit", "success")
	RecordEdit("en:wikipedia", "edit", true)
	after := getLabeledCounter(t, EditOperations, "en:wikipedia", "edit", "success")
	if after != before+1 {
		t.Errorf("edit counter = %v, want %v", after, before+1)
	}
}

func TestMetricsRegistered(t *testing.T) {
	// Verify all metrics are registered by checking they can be collected
	metrics := []prometheus.Collector{
		APIRequestsTotal,
		APILatency,
		APIErrors,
		APIRetries,
		ThrottleWaits,
		ThrottleDelay,
		LagReports,
		TokenRefreshes,
		AuthFailures,
		Logins,
		ContinuationPages,
		PreloadBatches,
		EditOperations,
		ContentSize,
	}

	for i, m := range metrics {
		if m == nil {
			t.Errorf("metric at index %d is nil", i)
		}
	}
}

func TestNamespace(t *testing.T) {
	if Namespace != "mwbot" {
		t.Errorf("expected namespace 'mwbot', got '%s'", Namespace)
	}
}

// Helper to read a labeled counter value
func getLabeledCounter(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.Counter.GetValue()
}
