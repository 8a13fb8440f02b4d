package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	c.Advance(5 * time.Minute)

	assert.Equal(t, start.Add(5*time.Minute), c.Now())
}
