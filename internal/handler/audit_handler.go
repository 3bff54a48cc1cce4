package handler

import (
	"net/http"
	"strconv"
	"strings"

	"storefront-auth/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	data, err := h.service.Query(r.Context(), service.AuditListInput{
		Type:      query.Get("type"),
		SubjectID: query.Get("subject_id"),
		From:      query.Get("from"),
		To:        query.Get("to"),
		Page:      parseIntOrDefault(query.Get("page"), 1),
		Limit:     parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, data)
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
