package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCheckout(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCheckout(OutcomeSuccess, 0, 10*time.Millisecond)
	m.ObserveCheckout(OutcomeStockConflict, 3, 5*time.Millisecond)
	m.ObserveCheckout(OutcomeStockConflict, 1, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Checkouts.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Checkouts.WithLabelValues(OutcomeStockConflict)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UnavailableProducts))
}
