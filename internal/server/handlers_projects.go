package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rank_tracker/internal/apperr"
	"rank_tracker/internal/model"
)

type projectDTO struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

func toProjectDTO(p *model.Project) projectDTO {
	return projectDTO{ID: p.ID, Slug: p.Slug, Name: p.Name, Owner: p.Owner, CreatedAt: p.CreatedAt}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id: %w", apperr.ErrValidation)
	}
	return id, nil
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Slug  string `json:"slug"`
			Name  string `json:"name"`
			Owner string `json:"owner"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		p := model.Project{Slug: req.Slug, Name: req.Name, Owner: req.Owner}
		if err := deps.Store.CreateProject(r.Context(), &p); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toProjectDTO(&p))
	}
}

func handleGetProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, toProjectDTO(p))
	}
}

func handleUpdateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  *string `json:"name"`
			Owner *string `json:"owner"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		upd := model.ProjectUpdate{Name: req.Name, Owner: req.Owner}
		if err := deps.Store.UpdateProject(r.Context(), p.ID, upd); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleDeleteProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if err := deps.Store.DeleteProject(r.Context(), p.ID); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleCreateCategory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		c := model.KeywordCategory{ProjectID: p.ID, Name: req.Name}
		if err := deps.Store.CreateCategory(r.Context(), &c); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID, "name": c.Name})
	}
}

func handleListCategories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		cats, err := deps.Store.ListCategories(r.Context(), p.ID)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		out := make([]map[string]any, 0, len(cats))
		for _, c := range cats {
			out = append(out, map[string]any{"id": c.ID, "name": c.Name})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteCategory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if err := deps.Store.DeleteCategory(r.Context(), id); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleCreateTarget(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber string `json:"phoneNumber"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		t := model.MessageTarget{ProjectID: p.ID, PhoneNumber: req.PhoneNumber, Active: true}
		if err := deps.Store.CreateTarget(r.Context(), &t); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": t.ID, "phoneNumber": t.PhoneNumber})
	}
}

func handleListTargets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		targets, err := deps.Store.ListActiveTargets(r.Context(), p.ID)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		out := make([]map[string]any, 0, len(targets))
		for _, t := range targets {
			out = append(out, map[string]any{"id": t.ID, "phoneNumber": t.PhoneNumber})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteTarget(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, deps.Log, err)
			return
		}
		if err := deps.Store.DeleteTarget(r.Context(), id); err != nil {
			writeError(w, deps.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
