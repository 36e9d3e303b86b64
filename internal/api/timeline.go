package api

import (
	"net/http"

	"github.com/nerrad567/conductor/internal/timeline"
	"github.com/nerrad567/conductor/internal/timelinefile"
)

// timelineBody is the request and response body of the timeline endpoint.
type timelineBody struct {
	Timeline []timeline.Object `json:"timeline"`
}

// mappingsBody is the request and response body of the mappings endpoint.
type mappingsBody struct {
	Mappings timeline.Mappings `json:"mappings"`
}

// handleGetTimeline returns the timeline currently being played.
func (s *Server) handleGetTimeline(w http.ResponseWriter, _ *http.Request) {
	objects := s.conductor.Timeline()
	writeJSON(w, http.StatusOK, map[string]any{"timeline": objects, "count": len(objects)})
}

// handlePutTimeline replaces the timeline. The mappings are kept.
func (s *Server) handlePutTimeline(w http.ResponseWriter, r *http.Request) {
	var body timelineBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if body.Timeline == nil {
		body.Timeline = []timeline.Object{}
	}
	doc := timelinefile.Document{Timeline: body.Timeline}
	if err := doc.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.ReplaceTimeline(r.Context(), body.Timeline); err != nil {
			s.logger.Error("failed to store timeline", "error", err)
			writeInternalError(w, "failed to store timeline")
			return
		}
	}
	s.conductor.SetTimelineAndMappings(body.Timeline, nil)

	s.logger.Info("timeline replaced via API", "objects", len(body.Timeline))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(body.Timeline)})
}

// handleGetMappings returns the current layer mappings.
func (s *Server) handleGetMappings(w http.ResponseWriter, _ *http.Request) {
	mappings := s.conductor.Mappings()
	writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings, "count": len(mappings)})
}

// handlePutMappings replaces the layer mappings. The timeline is kept.
func (s *Server) handlePutMappings(w http.ResponseWriter, r *http.Request) {
	var body mappingsBody
	if !decodeJSON(w, r, &body, false) {
		return
	}
	if body.Mappings == nil {
		body.Mappings = timeline.Mappings{}
	}
	doc := timelinefile.Document{Mappings: body.Mappings}
	if err := doc.Validate(); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.ReplaceMappings(r.Context(), body.Mappings); err != nil {
			s.logger.Error("failed to store mappings", "error", err)
			writeInternalError(w, "failed to store mappings")
			return
		}
	}
	s.conductor.SetTimelineAndMappings(s.conductor.Timeline(), body.Mappings)

	s.logger.Info("mappings replaced via API", "mappings", len(body.Mappings))
	writeJSON(w, http.StatusOK, map[string]any{"count": len(body.Mappings)})
}
