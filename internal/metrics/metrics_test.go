package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllInstruments(t *testing.T) {
	r := New()
	r.CacheFaults.Inc()
	r.OpenFilesInUse.Set(3)

	require.Equal(t, float64(1), testutil.ToFloat64(r.CacheFaults))
	require.Equal(t, float64(3), testutil.ToFloat64(r.OpenFilesInUse))
}

func TestIndependentRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.BitmapAllocs.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(a.BitmapAllocs))
	require.Equal(t, float64(0), testutil.ToFloat64(b.BitmapAllocs))
}
