package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/fitstar_utilization/internal/controller"
	"github.com/dgnsrekt/fitstar_utilization/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Start(ctx context.Context, trigger string) (controller.RunRecord, error)
	LastRun() (controller.RunRecord, error)
	Current() (controller.RunRecord, bool)
}

type healthOutput struct {
	Body struct {
		Status  string `json:"status"`
		Running bool   `json:"running"`
	}
}

type runOutput struct {
	Body controller.RunRecord
}

func NewServer(svc Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("FitStar Utilization Scheduler API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			logger.Debug("docs response write failed", "error", err)
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Scheduler health",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		_, out.Body.Running = svc.Current()
		return out, nil
	})

	registerRunHandlers(api, svc)

	return router
}

func registerRunHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-last-run",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/last",
		Summary:     "Most recently finished run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *struct{}) (*runOutput, error) {
		rec, err := svc.LastRun()
		if err != nil {
			return nil, mapErr(err)
		}
		return &runOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-current-run",
		Method:      http.MethodGet,
		Path:        "/api/v1/runs/current",
		Summary:     "Run in flight",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *struct{}) (*runOutput, error) {
		rec, ok := svc.Current()
		if !ok {
			return nil, huma.Error404NotFound("no run in progress")
		}
		return &runOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "trigger-run",
		Method:        http.MethodPost,
		Path:          "/api/v1/runs",
		Summary:       "Start a run now",
		Description:   "Starts a scrape in the background. Returns 409 while another run is in progress.",
		Tags:          []string{"Runs"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *struct{}) (*runOutput, error) {
		rec, err := svc.Start(ctx, controller.TriggerAPI)
		if err != nil {
			return nil, mapErr(err)
		}
		return &runOutput{Body: rec}, nil
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *pipeline.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case pipeline.CodeRunInProgress:
			return huma.Error409Conflict(coded.Message)
		case pipeline.CodeNoRuns:
			return huma.Error404NotFound(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
