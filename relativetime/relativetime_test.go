package relativetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	now := int64(1_700_000_000_000)
	ms := func(d time.Duration) int64 { return int64(d / time.Millisecond) }

	for _, test := range []struct {
		delta time.Duration
		want  string
	}{
		{10 * time.Second, "a few seconds ago"},
		{time.Minute, "a minute ago"},
		{10 * time.Minute, "10 minutes ago"},
		{time.Hour, "an hour ago"},
		{5 * time.Hour, "5 hours ago"},
		{25 * time.Hour, "a day ago"},
		{5 * 24 * time.Hour, "5 days ago"},
		{40 * 24 * time.Hour, "a month ago"},
		{100 * 24 * time.Hour, "3 months ago"},
		{400 * 24 * time.Hour, "a year ago"},
		{3 * 365 * 24 * time.Hour, "3 years ago"},
	} {
		assert.Equal(t, test.want, Diff(now, now-ms(test.delta)), test.delta.String())
	}

	assert.Equal(t, "in 10 minutes", Diff(now, now+ms(10*time.Minute)))
	assert.Equal(t, "a few seconds ago", Diff(now, now))
}
