package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestVerdictsTotal_Increments(t *testing.T) {
	VerdictsTotal.Reset()

	VerdictsTotal.WithLabelValues("blocked", "country").Inc()
	VerdictsTotal.WithLabelValues("blocked", "country").Inc()

	m := &dto.Metric{}
	counter, err := VerdictsTotal.GetMetricWithLabelValues("blocked", "country")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}

func TestStatusBucket(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{199, "1xx"},
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tc := range cases {
		if got := statusBucket(tc.code); got != tc.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}
