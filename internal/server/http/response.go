package httpserver

import (
	"github.com/helixir/pubmed-harvester/internal/pipeline"
)

// statusResponse is the JSON form of a run report.
type statusResponse struct {
	pipeline.RunReport
	Duration string  `json:"duration,omitempty"`
	Progress float64 `json:"progress"`
}

func newStatusResponse(r pipeline.RunReport) statusResponse {
	resp := statusResponse{RunReport: r}
	if d := r.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	switch {
	case r.State == pipeline.StateDone:
		resp.Progress = 1
	case r.TotalPages > 0:
		resp.Progress = float64(r.PagesFetched+r.PagesFailed) / float64(r.TotalPages)
	}
	return resp
}
