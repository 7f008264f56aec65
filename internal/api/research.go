package api

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/pipeline"
	"github.com/sells-group/deep-research/internal/store"
)

const (
	maxTopicRunes       = 500
	maxDescriptionRunes = 2000
	defaultMaxActive    = 3
)

type submitRequest struct {
	Topic       string     `json:"topic"`
	Description string     `json:"description"`
	Mode        model.Mode `json:"mode"`
	ParentID    string     `json:"parent_id"`
}

type submitResponse struct {
	ID     string               `json:"id"`
	Status model.ResearchStatus `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	req.Description = strings.TrimSpace(req.Description)
	switch {
	case req.Topic == "":
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	case utf8.RuneCountInString(req.Topic) > maxTopicRunes:
		writeError(w, http.StatusBadRequest, "topic must be at most 500 characters")
		return
	case utf8.RuneCountInString(req.Description) > maxDescriptionRunes:
		writeError(w, http.StatusBadRequest, "description must be at most 2000 characters")
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeFull
	}
	if !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be quick or full")
		return
	}

	ctx := r.Context()
	uid := userID(r)

	if req.ParentID != "" {
		parent, err := s.store.GetResearch(ctx, req.ParentID)
		if err != nil || parent.UserID != uid {
			writeError(w, http.StatusBadRequest, "parent research not found")
			return
		}
	}

	limit := s.cfg.Pipeline.MaxActivePerUser
	if limit <= 0 {
		limit = defaultMaxActive
	}
	active, err := s.store.CountActive(ctx, uid)
	if err != nil {
		writeStoreError(w, err, "count active")
		return
	}
	if active >= limit {
		writeError(w, http.StatusTooManyRequests, "too many research runs in progress")
		return
	}

	research := &model.Research{
		UserID:      uid,
		Topic:       req.Topic,
		Description: req.Description,
		Mode:        req.Mode,
		ParentID:    req.ParentID,
	}
	if err := s.store.CreateResearch(ctx, research); err != nil {
		writeStoreError(w, err, "create research")
		return
	}

	zap.L().Info("api: research submitted",
		zap.String("research_id", research.ID),
		zap.String("user_id", uid),
		zap.String("mode", string(research.Mode)),
	)
	s.start(pipeline.Request{
		ResearchID:  research.ID,
		Topic:       research.Topic,
		Description: research.Description,
		Mode:        research.Mode,
	})

	writeJSON(w, http.StatusAccepted, submitResponse{ID: research.ID, Status: research.Status})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ResearchFilter{
		UserID: userID(r),
		Status: model.ResearchStatus(q.Get("status")),
		Topic:  q.Get("topic"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	list, err := s.store.ListResearch(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err, "list research")
		return
	}
	if list == nil {
		list = []model.Research{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"research": list})
}

// owned loads a research and hides it from other users.
func (s *Server) owned(w http.ResponseWriter, r *http.Request) (*model.Research, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	research, err := s.store.GetResearch(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "get research")
		return nil, false
	}
	if research.UserID != userID(r) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return research, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	research, ok := s.owned(w, r)
	if !ok {
		return
	}
	detail, err := s.store.GetDetail(r.Context(), research.ID)
	if err != nil {
		writeStoreError(w, err, "get detail")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type updateRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "cancel" {
		writeError(w, http.StatusBadRequest, "unsupported action")
		return
	}

	research, ok := s.owned(w, r)
	if !ok {
		return
	}
	if !research.Status.IsActive() {
		writeError(w, http.StatusConflict, "research is not running")
		return
	}

	failed := model.StatusFailed
	msg := model.CancelledMessage
	if err := s.store.UpdateResearch(r.Context(), research.ID, model.ResearchUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
	}); err != nil {
		writeStoreError(w, err, "cancel research")
		return
	}

	zap.L().Info("api: research cancelled", zap.String("research_id", research.ID))
	s.pub.Publish(model.Event{
		Type:       model.EventPipelineError,
		ResearchID: research.ID,
		Message:    msg,
		Error:      msg,
		Timestamp:  s.now().UTC(),
	})
	writeJSON(w, http.StatusOK, submitResponse{ID: research.ID, Status: failed})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	research, ok := s.owned(w, r)
	if !ok {
		return
	}
	if research.Status.IsActive() {
		writeError(w, http.StatusConflict, "cancel the research before deleting it")
		return
	}
	if err := s.store.DeleteResearch(r.Context(), research.ID); err != nil {
		writeStoreError(w, err, "delete research")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
