package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"inkbook/internal/model"
	"inkbook/internal/store"
)

type BookHandler struct {
	books  *store.BookStore
	logger *slog.Logger
}

func NewBookHandler(books *store.BookStore, logger *slog.Logger) *BookHandler {
	return &BookHandler{books: books, logger: logger}
}

func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	book, err := h.books.Create(req.Name)
	if err != nil {
		h.logger.Error("create book", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create book")
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	books, err := h.books.List(includeArchived)
	if err != nil {
		h.logger.Error("list books", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.GetByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get book", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BookHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.books.Archive(r.PathValue("id")); err != nil {
		h.logger.Error("archive book", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to archive book")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
