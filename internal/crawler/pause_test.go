package crawler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	p := NewPauseController(nil)
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", &HTTPError{Status: http.StatusTooManyRequests}, "Rate limited (HTTP 429). Complete any verification and resume."},
		{"forbidden", &HTTPError{Status: http.StatusForbidden}, "Access denied (HTTP 403). Complete the verification challenge and resume."},
		{"other status", &HTTPError{Status: http.StatusBadGateway}, "Paused due to HTTP 502. Complete verification and resume."},
		{"wrapped status", errors.Join(errors.New("load sections"), &HTTPError{Status: http.StatusTooManyRequests}), "Rate limited (HTTP 429). Complete any verification and resume."},
		{"network", &NetworkError{Err: errors.New("connection reset")}, "network error: connection reset"},
		{"nil", nil, unknownPauseReason},
		{"empty message", errors.New(""), unknownPauseReason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Classify(tt.err))
		})
	}
}

func TestApplyRecordsNodeContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	p := NewPauseController(zap.New(core))
	s := NewCrawlState("FR", "France")
	node := Node{ID: "11", Description: "Horses", SectionLabel: "Section I"}

	reason := p.apply(s, &HTTPError{Status: http.StatusTooManyRequests}, &node)

	assert.True(t, s.Paused)
	assert.Equal(t, reason, s.PauseReason)
	assert.Equal(t, &LastError{Message: reason, Node: &NodeSnapshot{ID: "11", Description: "Horses", Section: "Section I"}}, s.LastError)
	entries := logs.FilterMessage("crawl paused").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "11", entries[0].ContextMap()["node_id"])
	}
}

func TestReasonClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http_429", reasonClass(&HTTPError{Status: 429}))
	assert.Equal(t, "network", reasonClass(&NetworkError{Err: errors.New("x")}))
	assert.Equal(t, "parse", reasonClass(&ParseError{Err: errors.New("x")}))
	assert.Equal(t, "other", reasonClass(errors.New("x")))
	assert.Equal(t, "unknown", reasonClass(nil))
}
