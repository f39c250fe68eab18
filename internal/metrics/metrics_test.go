package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStageDurationDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordStageDuration("get_id", 5*time.Millisecond)
	})
}

func TestRecordCatalogOpIncrementsErrorsOnFailure(t *testing.T) {
	before := testutil.ToFloat64(CatalogOpErrorsTotal.WithLabelValues("insert_test"))
	RecordCatalogOp("insert_test", time.Millisecond, errors.New("boom"))
	after := testutil.ToFloat64(CatalogOpErrorsTotal.WithLabelValues("insert_test"))
	assert.Equal(t, before+1, after)
}

func TestRecordCatalogOpLeavesErrorsUntouchedOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(CatalogOpErrorsTotal.WithLabelValues("get_test"))
	RecordCatalogOp("get_test", time.Millisecond, nil)
	after := testutil.ToFloat64(CatalogOpErrorsTotal.WithLabelValues("get_test"))
	assert.Equal(t, before, after)
}

func TestRecordCircuitBreakerStateSetsGauge(t *testing.T) {
	RecordCircuitBreakerState("catalog", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(CircuitBreakerState.WithLabelValues("catalog")))
}
