package crawler

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
)

const unknownPauseReason = "Crawler paused due to an unknown issue."

// PauseController converts failures into the human-readable pause state.
type PauseController struct {
	logger *zap.Logger
}

// NewPauseController builds a controller; a nil logger discards output.
func NewPauseController(logger *zap.Logger) *PauseController {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &PauseController{logger: logger}
}

// Classify maps an error to the reason shown to the operator.
func (p *PauseController) Classify(err error) string {
	if err == nil {
		return unknownPauseReason
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusTooManyRequests:
			return "Rate limited (HTTP 429). Complete any verification and resume."
		case http.StatusForbidden:
			return "Access denied (HTTP 403). Complete the verification challenge and resume."
		default:
			return fmt.Sprintf("Paused due to HTTP %d. Complete verification and resume.", httpErr.Status)
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownPauseReason
}

// apply marks s paused with the classified reason and node context. The
// caller holds the state lock and persists afterwards.
func (p *PauseController) apply(s *CrawlState, err error, node *Node) string {
	reason := p.Classify(err)
	s.Paused = true
	s.PauseReason = reason
	le := &LastError{Message: reason}
	if node != nil {
		le.Node = node.snapshot()
	}
	s.LastError = le
	metrics.ObservePause(reasonClass(err))
	fields := []zap.Field{zap.String("reason", reason), zap.Error(err)}
	if node != nil {
		fields = append(fields, zap.String("node_id", node.ID), zap.String("section", node.SectionLabel))
	}
	p.logger.Warn("crawl paused", fields...)
	return reason
}

func reasonClass(err error) string {
	var (
		httpErr  *HTTPError
		netErr   *NetworkError
		parseErr *ParseError
	)
	switch {
	case err == nil:
		return "unknown"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("http_%d", httpErr.Status)
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "other"
	}
}
