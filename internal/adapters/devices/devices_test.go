package devices

import (
	"testing"

	"github.com/dkeye/voicesession/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPlanFallsBackPerKind(t *testing.T) {
	got := plan(domain.MediaConstraints{Audio: true, Video: true})
	assert.Equal(t, []string{"video+audio", "video-only", "audio-only"}, labels(got))

	assert.Equal(t, []string{"audio-only"}, labels(plan(domain.MediaConstraints{Audio: true})))
	assert.Equal(t, []string{"video-only"}, labels(plan(domain.MediaConstraints{Video: true})))
	assert.Empty(t, plan(domain.MediaConstraints{}))
}

func labels(as []attempt) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.label)
	}
	return out
}
