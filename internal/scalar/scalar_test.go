package scalar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	t.Run("DateTime round trip", func(t *testing.T) {
		v, err := r.Decode("DateTime", "2024-03-01T10:00:00Z")
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), v)

		s, err := r.Encode("DateTime", v)
		require.NoError(t, err)
		require.Equal(t, "2024-03-01T10:00:00Z", s)
	})

	t.Run("DateTime rejects numbers", func(t *testing.T) {
		_, err := r.Decode("DateTime", 12)
		require.ErrorIs(t, err, ErrUnsupportedValue)
	})

	t.Run("unknown types pass through", func(t *testing.T) {
		v, err := r.Decode("Money", "12.50")
		require.NoError(t, err)
		require.Equal(t, "12.50", v)
	})

	t.Run("JSON encodes structs", func(t *testing.T) {
		v, err := r.Encode("JSON", struct {
			A string `json:"a"`
		}{A: "x"})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"a": "x"}, v)
	})
}
