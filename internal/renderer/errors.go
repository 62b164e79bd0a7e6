package renderer

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rendis/artifactflow/pkg/schema"
)

// ClassifyRenderError maps an executor failure onto the render failure
// taxonomy surfaced to callers. Timeout and transport failures are detected
// structurally; dependency resolution is a string heuristic because
// executors report it in prose; everything else is treated as the source
// failing to build.
func ClassifyRenderError(err error) schema.RendererErrorType {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return schema.RenderErrTimeout
	}

	var perr *schema.PipelineError
	if errors.As(err, &perr) && perr.Code == schema.ErrCodeTimeout {
		return schema.RenderErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return schema.RenderErrNetwork
	}

	msg := strings.ToLower(err.Error())

	dependencyPatterns := []string{
		"cannot resolve module",
		"module not found",
		"failed to resolve",
		"unknown dependency",
		"package not found",
		"dependency",
	}
	for _, p := range dependencyPatterns {
		if strings.Contains(msg, p) {
			return schema.RenderErrDependency
		}
	}

	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"network",
		"fetch failed",
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return schema.RenderErrNetwork
		}
	}

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return schema.RenderErrTimeout
	}

	return schema.RenderErrCompilation
}
