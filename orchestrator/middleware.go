package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"tangled.sh/tangled.sh/provisioner/apierr"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
	"tangled.sh/tangled.sh/provisioner/orchestrator/models"
)

type ctxKey int

const (
	orgKey ctxKey = iota
	jobKey
)

func (o *Orchestrator) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		queryParams := r.URL.Query()
		queryAttrs := make([]any, 0, len(queryParams))
		for key, values := range queryParams {
			if len(values) == 1 {
				queryAttrs = append(queryAttrs, slog.String(key, values[0]))
			} else {
				queryAttrs = append(queryAttrs, slog.Any(key, values))
			}
		}

		o.l.LogAttrs(r.Context(), slog.LevelInfo, "",
			slog.Group("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Group("query", queryAttrs...),
				slog.Duration("duration", time.Since(start)),
			),
		)
	})
}

// ResolveOrganization loads the {org} path parameter into the request
// context.
func (o *Orchestrator) ResolveOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, err := o.db.GetOrganization(r.Context(), chi.URLParam(r, "org"))
		if errors.Is(err, db.ErrNotFound) {
			apierr.Write(w, apierr.NotFoundError("organization"), http.StatusNotFound)
			return
		}
		if err != nil {
			o.l.Error("failed to load organization", "err", err)
			apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), orgKey, org)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveJob loads the {job} path parameter, with its steps, into the
// request context.
func (o *Orchestrator) ResolveJob(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "job"), 10, 64)
		if err != nil {
			apierr.Write(w, apierr.InvalidRequestError(err), http.StatusBadRequest)
			return
		}

		job, err := o.db.GetJob(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			apierr.Write(w, apierr.NotFoundError("job"), http.StatusNotFound)
			return
		}
		if err != nil {
			o.l.Error("failed to load job", "job", id, "err", err)
			apierr.Write(w, apierr.GenericError(err), http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), jobKey, job)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func organizationFrom(ctx context.Context) *models.Organization {
	return ctx.Value(orgKey).(*models.Organization)
}

func jobFrom(ctx context.Context) *models.Job {
	return ctx.Value(jobKey).(*models.Job)
}
