package streamserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNativeByteOrderIsOneOfTheTwoSentinels(t *testing.T) {
	order := nativeByteOrder()
	require.True(t, order == 1234 || order == 4321)
}

func TestMeasureEndianPerformanceReturnsPositiveDuration(t *testing.T) {
	ns := measureEndianPerformance()
	require.Greater(t, ns, 0.0)
}
