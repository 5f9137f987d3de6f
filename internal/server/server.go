package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/ics"
	"dayline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"schedule_conflict"`
	Message string         `json:"message" example:"overlaps \"Algorithms\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope shared by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Dayline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the shared envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Dayline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOwners(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerTimelineICS(router, basePath, cfg.Engine)
	registerConflicts(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerCommitments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// conflictError wraps a schedule conflict into a 409 envelope carrying the
// blocking interval and suggested start in details.
func conflictError(c *domain.Conflict) huma.StatusError {
	return newAPIError(http.StatusConflict, "schedule_conflict", c.Reason, map[string]any{
		"blocking":        c.Blocking,
		"suggested_start": c.SuggestedStart.Format(time.RFC3339),
	})
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "out of range") ||
		strings.Contains(lowered, "duplicate") ||
		strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dayline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOwners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-owner",
		Method:        http.MethodPost,
		Path:          "/owners",
		Summary:       "Register owner",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			ID   string `json:"id"`
			Name string `json:"name,omitempty"`
		}
	}) (*struct {
		Body domain.Owner
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner id is required", nil)
		}
		o, err := e.InitOwner(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Owner
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-owners",
		Method:      http.MethodGet,
		Path:        "/owners",
		Summary:     "List owners",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Owners []domain.Owner `json:"owners"`
		}
	}, error) {
		owners, err := e.Repo.ListOwners(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Owners []domain.Owner `json:"owners"`
			}
		}{}
		out.Body.Owners = owners
		return out, nil
	})
}

type OwnerPath struct {
	OwnerID string `path:"owner_id"`
}

func resolveDate(ctx context.Context, e engine.Engine, ownerID, date string) (string, error) {
	if date != "" {
		return date, nil
	}
	return e.CurrentDate(ctx, ownerID)
}

// boolFilter turns an optional true/false query value into a filter pointer.
// Absent means no filter.
func boolFilter(v string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return nil, nil
	case "true", "1":
		b := true
		return &b, nil
	case "false", "0":
		b := false
		return &b, nil
	}
	return nil, fmt.Errorf("want true or false, got %q", v)
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-timeline",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/timeline",
		Summary:     "Build the day timeline",
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Date string `query:"date" example:"2024-01-01"`
	}) (*TimelineResponse, error) {
		date, err := resolveDate(ctx, e, input.OwnerID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		tl, err := e.BuildTimeline(ctx, input.OwnerID, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &TimelineResponse{Body: tl}, nil
	})
}

// registerTimelineICS serves the timeline as text/calendar, outside Huma
// since the payload is not JSON.
func registerTimelineICS(r chi.Router, basePath string, e engine.Engine) {
	r.Get(basePath+"/owners/{owner_id}/timeline.ics", func(w http.ResponseWriter, req *http.Request) {
		ownerID := chi.URLParam(req, "owner_id")
		date, err := resolveDate(req.Context(), e, ownerID, req.URL.Query().Get("date"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		tl, err := e.BuildTimeline(req.Context(), ownerID, date)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ownerID+"-"+tl.Date+".ics"))
		io.WriteString(w, ics.Export(tl))
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-conflict",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/conflicts",
		Summary:     "Check a proposed placement",
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Body ConflictCheckRequest
	}) (*ConflictCheckResponse, error) {
		conflict, err := e.CheckConflict(ctx, input.OwnerID, input.Body.Start, input.Body.DurationMinutes, input.Body.ExcludeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &ConflictCheckResponse{}
		out.Body.Conflict = conflict
		return out, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "auto-schedule",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/schedule/auto",
		Summary:     "Auto-schedule unplaced commitments",
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Body struct {
			Date string `json:"date,omitempty" example:"2024-01-01"`
		}
	}) (*ScheduleResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		date, err := resolveDate(ctx, e, input.OwnerID, input.Body.Date)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.AutoSchedule(ctx, input.OwnerID, date, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &ScheduleResponse{Body: res}, nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/owners/{owner_id}/templates",
		Summary:       "Create weekly template",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Body CreateTemplateRequest
	}) (*TemplateResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			OwnerID:         input.OwnerID,
			Title:           input.Body.Title,
			Kind:            input.Body.Kind,
			StartTime:       input.Body.StartTime,
			DurationMinutes: input.Body.DurationMinutes,
			Days:            input.Body.Days,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &TemplateResponse{Body: tpl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/templates",
		Summary:     "List weekly templates",
	}, func(ctx context.Context, input *OwnerPath) (*TemplateListResponse, error) {
		templates, err := e.Repo.ListTemplates(ctx, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &TemplateListResponse{}
		out.Body.Templates = templates
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{template_id}",
		Summary:     "Update weekly template",
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
		Body       UpdateTemplateRequest
	}) (*TemplateResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := e.UpdateTemplate(ctx, engine.TemplateUpdateOptions{
			ID:              input.TemplateID,
			Title:           input.Body.Title,
			Kind:            input.Body.Kind,
			StartTime:       input.Body.StartTime,
			DurationMinutes: input.Body.DurationMinutes,
			Days:            input.Body.Days,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &TemplateResponse{Body: tpl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/templates/{template_id}",
		Summary:     "Delete weekly template",
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTemplate(ctx, input.TemplateID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCommitments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-commitment",
		Method:        http.MethodPost,
		Path:          "/owners/{owner_id}/commitments",
		Summary:       "Create commitment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Body CreateCommitmentRequest
	}) (*CommitmentResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CommitmentCreateOptions{
			OwnerID:         input.OwnerID,
			Title:           input.Body.Title,
			Due:             input.Body.Due,
			DurationMinutes: input.Body.DurationMinutes,
			ActorID:         actorID,
			Force:           input.Body.Force,
		}
		if input.Body.Notes != nil {
			opts.Notes = *input.Body.Notes
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		if input.Body.Recurrence != nil {
			opts.Recurrence = *input.Body.Recurrence
		}
		c, conflict, err := e.CreateCommitment(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if conflict != nil {
			return nil, conflictError(conflict)
		}
		return &CommitmentResponse{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commitments",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/commitments",
		Summary:     "List commitments",
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Completed string `query:"completed" doc:"Filter by completion: true or false"`
		Unplaced  string `query:"unplaced" doc:"Filter by placement: true or false"`
		Limit     int    `query:"limit"`
	}) (*CommitmentListResponse, error) {
		completed, err := boolFilter(input.Completed)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid completed filter: "+err.Error(), nil)
		}
		unplaced, err := boolFilter(input.Unplaced)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid unplaced filter: "+err.Error(), nil)
		}
		list, err := e.Repo.ListCommitments(ctx, repo.CommitmentFilters{
			OwnerID:   input.OwnerID,
			Completed: completed,
			Unplaced:  unplaced,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &CommitmentListResponse{}
		out.Body.Commitments = list
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-commitment",
		Method:      http.MethodPatch,
		Path:        "/commitments/{commitment_id}",
		Summary:     "Update commitment",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CommitmentID string `path:"commitment_id"`
		Body         UpdateCommitmentRequest
	}) (*CommitmentResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, conflict, err := e.UpdateCommitment(ctx, engine.CommitmentUpdateOptions{
			ID:              input.CommitmentID,
			Title:           input.Body.Title,
			Notes:           input.Body.Notes,
			Due:             input.Body.Due,
			ClearDue:        input.Body.ClearDue,
			DurationMinutes: input.Body.DurationMinutes,
			Priority:        input.Body.Priority,
			Recurrence:      input.Body.Recurrence,
			ActorID:         actorID,
			Force:           input.Body.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if conflict != nil {
			return nil, conflictError(conflict)
		}
		return &CommitmentResponse{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-commitment",
		Method:      http.MethodPost,
		Path:        "/commitments/{commitment_id}/complete",
		Summary:     "Mark commitment complete",
	}, func(ctx context.Context, input *struct {
		CommitmentID string `path:"commitment_id"`
	}) (*CommitmentResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CompleteCommitment(ctx, input.CommitmentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &CommitmentResponse{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-commitment",
		Method:      http.MethodDelete,
		Path:        "/commitments/{commitment_id}",
		Summary:     "Delete commitment",
	}, func(ctx context.Context, input *struct {
		CommitmentID string `path:"commitment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCommitment(ctx, input.CommitmentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		OwnerPath
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*EventListResponse, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := e.Repo.LatestEvents(ctx, limit, input.OwnerID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &EventListResponse{}
		out.Body.Events = evts
		return out, nil
	})
}
