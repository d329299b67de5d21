package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gitsync/gitsync/internal/api"
	"github.com/gitsync/gitsync/internal/store"
	"github.com/gitsync/gitsync/internal/syncer"
	"github.com/go-chi/chi/v5"
)

// Handler handles HTTP requests for the sync daemon.
type Handler struct {
	Registry *Registry
	Store    store.Store
	Logger   *slog.Logger
}

// NewHandler creates a new sync handler.
func NewHandler(registry *Registry, s store.Store, logger *slog.Logger) *Handler {
	return &Handler{
		Registry: registry,
		Store:    s,
		Logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, resp api.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeSyncError maps the orchestrator's typed codes to HTTP statuses. The
// report object itself rides along so clients can discriminate on Code.
func writeSyncError(w http.ResponseWriter, serr *syncer.SyncError) {
	status := http.StatusInternalServerError
	switch serr.Code {
	case syncer.CodeNothingToPush:
		writeJSON(w, http.StatusOK, api.APIResponse{Message: serr.Message, Data: serr})
		return
	case syncer.CodePushRejected, syncer.CodeMergeConflict, syncer.CodeBusy:
		status = http.StatusConflict
	case syncer.CodePrecondition, syncer.CodeUninitialized:
		status = http.StatusBadRequest
	case syncer.CodeNetwork:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, api.APIResponse{Message: serr.Message, Data: serr})
}

// ConfigureRepo handles POST /api/v1/repos
func (h *Handler) ConfigureRepo(w http.ResponseWriter, r *http.Request) {
	var input ConfigureInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	repo, err := h.Registry.Configure(r.Context(), input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, api.APIResponse{
		Message: "Sync repository configured",
		Data:    repo,
	})
}

// DisableRepo handles DELETE /api/v1/repos/{workspaceID}
func (h *Handler) DisableRepo(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	if err := h.Registry.Disable(r.Context(), workspaceID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotConfigured) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Sync repository removed"})
}

// binding resolves the ready workspace binding or writes the error.
func (h *Handler) binding(w http.ResponseWriter, r *http.Request) (*Binding, bool) {
	workspaceID := chi.URLParam(r, "workspaceID")
	binding, err := h.Registry.Get(workspaceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotConfigured) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return nil, false
	}
	return binding, true
}

// Status handles GET /api/v1/repos/{workspaceID}/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	status, serr := binding.Orchestrator.Status()
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	status.Provider = binding.Repo.Provider
	writeJSON(w, http.StatusOK, api.APIResponse{Data: status})
}

// ListBranches handles GET /api/v1/repos/{workspaceID}/branches
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	list, serr := binding.Orchestrator.Branches()
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Data: list})
}

// Log handles GET /api/v1/repos/{workspaceID}/log
func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	entries, serr := binding.Orchestrator.Log()
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Data: entries})
}

type checkoutRequest struct {
	Branch string `json:"branch"`
	Remote bool   `json:"remote"` // branch exists only on the remote
}

// Checkout handles POST /api/v1/repos/{workspaceID}/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Branch == "" {
		http.Error(w, "Branch is required", http.StatusBadRequest)
		return
	}

	var serr *syncer.SyncError
	if req.Remote {
		auth, err := h.Registry.AuthFor(r.Context(), binding)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		serr = binding.Orchestrator.RemoteCheckout(r.Context(), req.Branch, auth)
	} else {
		serr = binding.Orchestrator.Checkout(r.Context(), req.Branch)
	}
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Checked out " + req.Branch})
}

type mergeRequest struct {
	Branch string `json:"branch"`
}

// Merge handles POST /api/v1/repos/{workspaceID}/merge
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Branch == "" {
		http.Error(w, "Branch is required", http.StatusBadRequest)
		return
	}

	hash, serr := binding.Orchestrator.Merge(r.Context(), req.Branch)
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Merged " + req.Branch, Data: map[string]string{"commit": hash}})
}

type pushRequest struct {
	Force bool `json:"force"`
}

// Push handles POST /api/v1/repos/{workspaceID}/push
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	var req pushRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	auth, err := h.Registry.AuthFor(r.Context(), binding)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if serr := binding.Orchestrator.Push(r.Context(), auth, req.Force); serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Pushed"})
}

// Pull handles POST /api/v1/repos/{workspaceID}/pull
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	auth, err := h.Registry.AuthFor(r.Context(), binding)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if serr := binding.Orchestrator.Pull(r.Context(), auth); serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Pulled"})
}

type fetchRequest struct {
	AllBranches bool `json:"all_branches"`
	Depth       int  `json:"depth"`
}

// Fetch handles POST /api/v1/repos/{workspaceID}/fetch
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	req := fetchRequest{AllBranches: true, Depth: 1}
	_ = json.NewDecoder(r.Body).Decode(&req)

	auth, err := h.Registry.AuthFor(r.Context(), binding)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if serr := binding.Orchestrator.Fetch(r.Context(), auth, req.AllBranches, req.Depth); serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Fetched"})
}

type commitRequest struct {
	Message string `json:"message"`
}

// Commit handles POST /api/v1/repos/{workspaceID}/commit
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "Commit message is required", http.StatusBadRequest)
		return
	}

	hash, serr := binding.Orchestrator.Commit(r.Context(), req.Message)
	if serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Committed", Data: map[string]string{"commit": hash}})
}

// DeleteBranch handles DELETE /api/v1/repos/{workspaceID}/branches/{branch}
func (h *Handler) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	binding, ok := h.binding(w, r)
	if !ok {
		return
	}

	branch := chi.URLParam(r, "branch")
	if serr := binding.Orchestrator.DeleteBranch(branch); serr != nil {
		writeSyncError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Message: "Deleted branch " + branch})
}

// WorkspaceMeta handles GET /api/v1/workspaces/{workspaceID}/meta
func (h *Handler) WorkspaceMeta(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	meta, err := h.Store.GetWorkspaceMeta(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Data: meta})
}

// Documents handles GET /api/v1/workspaces/{workspaceID}/documents
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	docs, err := h.Store.ListDocuments(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, api.APIResponse{Data: docs})
}

// Routes mounts every API route under /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/repos", func(r chi.Router) {
			r.Post("/", h.ConfigureRepo)
			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Delete("/", h.DisableRepo)
				r.Get("/status", h.Status)
				r.Get("/branches", h.ListBranches)
				r.Get("/log", h.Log)
				r.Post("/checkout", h.Checkout)
				r.Post("/merge", h.Merge)
				r.Post("/push", h.Push)
				r.Post("/pull", h.Pull)
				r.Post("/fetch", h.Fetch)
				r.Post("/commit", h.Commit)
				r.Delete("/branches/{branch}", h.DeleteBranch)
			})
		})
		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Get("/meta", h.WorkspaceMeta)
			r.Get("/documents", h.Documents)
		})
	})
	return r
}
