package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tabgain/internal/rules"
)

func registerRuleHandlers(api huma.API, svc Service) {
	type listRulesOutput struct {
		Body struct {
			Rules []rules.Rule `json:"rules"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-rules", Method: http.MethodGet, Path: "/api/v1/rules", Summary: "List saved volume rules", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct{}) (*listRulesOutput, error) {
			rs, err := svc.ListRules(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRulesOutput{}
			out.Body.Rules = rs
			return out, nil
		})

	type ruleOutput struct {
		Body rules.Rule
	}
	huma.Register(api, huma.Operation{OperationID: "create-rule", Method: http.MethodPost, Path: "/api/v1/rules", Summary: "Save a volume rule", Description: "Scope is \"domain\" (hostname match) or \"url\" (exact match). Saving a rule for an existing key+scope replaces it.", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Key    string `json:"key" required:"true" doc:"Hostname for domain scope, full URL for url scope"`
				Volume int    `json:"volume" required:"true"`
				Scope  string `json:"scope" required:"true" enum:"domain,url"`
			}
		}) (*ruleOutput, error) {
			rule, err := svc.CreateRule(ctx, input.Body.Key, input.Body.Volume, rules.Scope(input.Body.Scope))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &ruleOutput{}
			out.Body = rule
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-rule", Method: http.MethodDelete, Path: "/api/v1/rules/{rule_id}", Summary: "Delete a volume rule", Tags: []string{"Rules"}},
		func(ctx context.Context, input *struct {
			RuleID string `path:"rule_id"`
		}) (*struct{}, error) {
			if err := svc.DeleteRule(ctx, input.RuleID); err != nil {
				return nil, mapErr(err)
			}
			return &struct{}{}, nil
		})
}
