package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/roomchat/internal/fileserver"
)

type FileHandler struct {
	svc *fileserver.Service
}

func NewFileHandler(svc *fileserver.Service) *FileHandler {
	return &FileHandler{svc: svc}
}

func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.svc.Upload(w, r)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.svc.Serve(w, r, chi.URLParam(r, "filename"))
}
