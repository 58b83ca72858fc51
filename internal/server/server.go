package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeblue/internal/engine"
	"codeblue/internal/metrics"
	"codeblue/internal/repo"
)

// Config for the HTTP handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"no incident in flight"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Code Blue API: the JSON management
// surface under the base path, the carrier-facing callback routes at
// /callbacks/*, and Prometheus metrics at /metrics.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Code Blue API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	poller := newStatusPoller(cfg.Engine.Notifier)
	go poller.run(context.Background())

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, poller)
	registerHotline(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerReport(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCallbacks(router, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	router.Handle("/metrics", promhttp.Handler())

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "empty"):
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

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Code Blue API Docs</title>
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

func registerStatus(api huma.API, poller *statusPoller) {
	huma.Register(api, huma.Operation{
		OperationID: "service-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ServiceStatus `json:"body"`
	}, error) {
		return &struct {
			Body ServiceStatus `json:"body"`
		}{Body: poller.Status()}, nil
	})
}

func registerHotline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-hotline",
		Method:        http.MethodPost,
		Path:          "/hotline",
		Summary:       "Start a Code Blue escalation run",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HotlineResponse `json:"body"`
	}, error) {
		id, err := e.StartEscalation(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HotlineResponse `json:"body"`
		}{Body: HotlineResponse{IncidentID: id}}, nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{incident_id}",
		Summary:     "Get incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IncidentID string `path:"incident_id"`
	}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		inc, err := e.Repo.GetIncident(ctx, input.IncidentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(inc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/latest",
		Summary:     "Get latest incident",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body IncidentResponse `json:"body"`
	}, error) {
		inc, err := e.Repo.LatestIncident(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IncidentResponse `json:"body"`
		}{Body: incidentResponse(inc)}, nil
	})
}

func registerReport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "call-report",
		Method:      http.MethodGet,
		Path:        "/report",
		Summary:     "Latest incident report joined with roster names",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		inc, err := e.Repo.LatestIncident(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := e.ReportRows(ctx, inc.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: ReportResponse{IncidentID: inc.ID, CreatedAt: inc.CreatedAt, Rows: rows}}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List roster members",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: memberResponses(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Add roster member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AddMemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Phone == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "phone is required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		m, err := e.AddMember(ctx, input.Body.Phone, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: MemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/members/{phone}",
		Summary:     "Remove roster member",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Phone string `path:"phone"`
	}) (*struct{}, error) {
		if err := e.RemoveMember(ctx, input.Phone); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		IncidentID string `query:"incident_id"`
		Type       string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.IncidentID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: eventResponses(items)}, nil
	})
}
