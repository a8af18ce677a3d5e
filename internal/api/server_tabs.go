package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tabgain/internal/service"
	"github.com/dgnsrekt/tabgain/internal/types"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []types.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List audible-capable browser tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type capturedTabsOutput struct {
		Body struct {
			Tabs []service.CapturedTab `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-captured-tabs", Method: http.MethodGet, Path: "/api/v1/tabs/captured", Summary: "List tabs with active audio capture", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*capturedTabsOutput, error) {
			tabs, err := svc.CapturedTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &capturedTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type volumeOutput struct {
		Body struct {
			TabID  types.TabID `json:"tab_id"`
			Volume int         `json:"volume"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab-volume", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/volume", Summary: "Get a tab's volume", Description: "Returns 100 for tabs that never had a volume set.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID types.TabID `path:"tab_id"`
		}) (*volumeOutput, error) {
			volume, err := svc.GetTabVolume(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &volumeOutput{}
			out.Body.TabID = input.TabID
			out.Body.Volume = volume
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-tab-volume", Method: http.MethodPut, Path: "/api/v1/tabs/{tab_id}/volume", Summary: "Set a tab's volume", Description: "Volume is a percentage, clamped to 0-900. The first non-default volume starts audio capture for the tab.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID types.TabID `path:"tab_id"`
			Body  struct {
				Volume int `json:"volume" required:"true"`
			}
		}) (*volumeOutput, error) {
			applied, err := svc.SetTabVolume(ctx, input.TabID, input.Body.Volume)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &volumeOutput{}
			out.Body.TabID = input.TabID
			out.Body.Volume = applied
			return out, nil
		})

	type autoApplyOutput struct {
		Body service.AutoApplyResult
	}
	huma.Register(api, huma.Operation{OperationID: "auto-apply-volume", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/volume/auto", Summary: "Apply the saved rule matching a tab's URL", Description: "Exact-URL rules win over domain rules. Without a match the recorded volume is returned unchanged.", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			TabID types.TabID `path:"tab_id"`
		}) (*autoApplyOutput, error) {
			result, err := svc.AutoApply(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &autoApplyOutput{}
			out.Body = result
			return out, nil
		})
}
