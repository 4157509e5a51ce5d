package elastic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatInterval(t *testing.T) {
	for d, want := range map[time.Duration]string{
		48 * time.Hour:          "2d",
		2 * time.Hour:           "2h",
		90 * time.Minute:        "90m",
		90 * time.Second:        "90s",
		1500 * time.Millisecond: "1500ms",
	} {
		require.Equal(t, want, formatInterval(d), d.String())
	}
}

func TestAutoInterval(t *testing.T) {
	require.Equal(t, 5*time.Second, autoInterval(5*time.Minute))
	require.Equal(t, time.Minute, autoInterval(time.Hour))
	require.Equal(t, time.Hour, autoInterval(4*24*time.Hour))
	require.Equal(t, 30*24*time.Hour, autoInterval(50*365*24*time.Hour))
}
