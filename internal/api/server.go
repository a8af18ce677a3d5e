package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tabgain/internal/rules"
	"github.com/dgnsrekt/tabgain/internal/service"
	"github.com/dgnsrekt/tabgain/internal/tabcap"
	"github.com/dgnsrekt/tabgain/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListTabs(ctx context.Context) ([]types.TabInfo, error)
	SetTabVolume(ctx context.Context, tab types.TabID, volume int) (int, error)
	GetTabVolume(ctx context.Context, tab types.TabID) (int, error)
	CapturedTabs(ctx context.Context) ([]service.CapturedTab, error)
	AutoApply(ctx context.Context, tab types.TabID) (service.AutoApplyResult, error)
	ListRules(ctx context.Context) ([]rules.Rule, error)
	CreateRule(ctx context.Context, key string, volume int, scope rules.Scope) (rules.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	ExportRules(ctx context.Context) ([]byte, error)
	ImportRules(ctx context.Context, data []byte) (int, error)
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tabgain Control API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerTabHandlers(api, svc)
	registerRuleHandlers(api, svc)
	registerRuleTransferRoutes(router, svc)
	registerMiscHandlers(api)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *tabcap.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case tabcap.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case tabcap.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case tabcap.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, rules.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	if errors.Is(err, service.ErrCoordinatorTimeout) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

// Rule export/import move whole JSON documents, so they bypass huma and sit
// on the router directly like /docs does.
func registerRuleTransferRoutes(router chi.Router, svc Service) {
	router.Get("/api/v1/rules/export", func(w http.ResponseWriter, r *http.Request) {
		data, err := svc.ExportRules(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="tabgain-rules.json"`)
		if _, err := w.Write(data); err != nil {
			slog.Debug("rules export write failed", "error", err)
		}
	})

	router.Post("/api/v1/rules/import", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
			return
		}
		n, err := svc.ImportRules(r.Context(), data)
		if err != nil {
			var coded *tabcap.CodedError
			if errors.As(err, &coded) && coded.Code == tabcap.CodeValidation {
				http.Error(w, coded.Message, http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"imported":%d}`, n)
	})
}

func registerMiscHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Misc"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
