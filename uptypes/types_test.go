package uptypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryOptions_Attempts(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		want       uint
	}{
		{name: "no retries", maxRetries: 0, want: 1},
		{name: "default", maxRetries: 3, want: 4},
		{name: "negative clamps to single attempt", maxRetries: -1, want: 1},
		{name: "large negative clamps too", maxRetries: -1000, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := RetryOptions{MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.want, opts.Attempts())
		})
	}
}
