// Package service is the command surface the HTTP API drives: it validates
// requests, resolves volume rules, and exchanges request/reply messages with
// the coordinator over the bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/tabgain/internal/bus"
	"github.com/dgnsrekt/tabgain/internal/rules"
	"github.com/dgnsrekt/tabgain/internal/tabcap"
	"github.com/dgnsrekt/tabgain/internal/types"
)

// Volume bounds enforced at this boundary. The coordinator itself passes
// values through unclamped.
const (
	MinVolume = 0
	MaxVolume = 900
)

// ErrCoordinatorTimeout is returned when the coordinator does not reply in
// time (stalled loop or dropped command).
var ErrCoordinatorTimeout = errors.New("coordinator did not reply")

// TabLookup is the slice of the capture client the service needs.
type TabLookup interface {
	Tabs(ctx context.Context) ([]types.TabInfo, error)
	Lookup(id types.TabID) (types.TabInfo, bool)
}

// CapturedTab joins a captured tab id with its live metadata and recorded
// volume.
type CapturedTab struct {
	types.TabInfo
	Volume int `json:"volume"`
}

// AutoApplyResult reports what a rule auto-apply did for a tab.
type AutoApplyResult struct {
	Applied bool        `json:"applied"`
	Volume  int         `json:"volume"`
	Rule    *rules.Rule `json:"rule,omitempty"`
}

// Service wires the control surface to its collaborators.
type Service struct {
	coord        *bus.Inbox
	tabs         TabLookup
	rules        *rules.Store
	replyTimeout time.Duration
}

func New(coord *bus.Inbox, tabs TabLookup, ruleStore *rules.Store) *Service {
	return &Service{
		coord:        coord,
		tabs:         tabs,
		rules:        ruleStore,
		replyTimeout: 5 * time.Second,
	}
}

func clampVolume(v int) int {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// ListTabs returns the live tab registry.
func (s *Service) ListTabs(ctx context.Context) ([]types.TabInfo, error) {
	return s.tabs.Tabs(ctx)
}

// SetTabVolume clamps and applies a volume to an open tab. The success
// reply only means the command was accepted; capture may still fail
// silently downstream.
func (s *Service) SetTabVolume(ctx context.Context, tab types.TabID, volume int) (int, error) {
	if _, ok := s.tabs.Lookup(tab); !ok {
		return 0, &tabcap.CodedError{Code: tabcap.CodeTabNotFound, Message: fmt.Sprintf("tab %d not found", tab)}
	}
	volume = clampVolume(volume)

	reply := make(chan bus.SetVolumeReply, 1)
	s.coord.Send(bus.SetVolume{Target: tab, Volume: volume, Reply: reply})

	select {
	case <-reply:
		return volume, nil
	case <-time.After(s.replyTimeout):
		return 0, ErrCoordinatorTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// GetTabVolume reads the recorded volume for a tab (100 when never set).
func (s *Service) GetTabVolume(ctx context.Context, tab types.TabID) (int, error) {
	reply := make(chan bus.VolumeReply, 1)
	s.coord.Send(bus.GetVolume{Target: tab, Reply: reply})

	select {
	case r := <-reply:
		return r.Volume, nil
	case <-time.After(s.replyTimeout):
		return 0, ErrCoordinatorTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CapturedTabs lists actively captured tabs joined with live metadata.
// Tabs that closed between the reply and the join are skipped.
func (s *Service) CapturedTabs(ctx context.Context) ([]CapturedTab, error) {
	reply := make(chan bus.CapturedReply, 1)
	s.coord.Send(bus.GetCaptured{Reply: reply})

	var targets []types.TabID
	select {
	case r := <-reply:
		targets = r.Targets
	case <-time.After(s.replyTimeout):
		return nil, ErrCoordinatorTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]CapturedTab, 0, len(targets))
	for _, id := range targets {
		info, ok := s.tabs.Lookup(id)
		if !ok {
			continue
		}
		volume, err := s.GetTabVolume(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, CapturedTab{TabInfo: info, Volume: volume})
	}
	return out, nil
}

// AutoApply applies the matching persisted rule for the tab's current URL,
// if any. Without a match it just reports the recorded volume so the UI can
// seed its slider.
func (s *Service) AutoApply(ctx context.Context, tab types.TabID) (AutoApplyResult, error) {
	info, ok := s.tabs.Lookup(tab)
	if !ok {
		return AutoApplyResult{}, &tabcap.CodedError{Code: tabcap.CodeTabNotFound, Message: fmt.Sprintf("tab %d not found", tab)}
	}

	if rule, matched := rules.Resolve(s.rules.List(), info.URL); matched {
		applied, err := s.SetTabVolume(ctx, tab, rule.Volume)
		if err != nil {
			return AutoApplyResult{}, err
		}
		return AutoApplyResult{Applied: true, Volume: applied, Rule: &rule}, nil
	}

	volume, err := s.GetTabVolume(ctx, tab)
	if err != nil {
		return AutoApplyResult{}, err
	}
	return AutoApplyResult{Applied: false, Volume: volume}, nil
}

// ListRules returns all persisted rules.
func (s *Service) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return s.rules.List(), nil
}

// CreateRule saves a rule, clamping its volume like the live path does.
func (s *Service) CreateRule(ctx context.Context, key string, volume int, scope rules.Scope) (rules.Rule, error) {
	return s.rules.Put(key, clampVolume(volume), scope)
}

// DeleteRule removes a rule by id.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.rules.Delete(id)
}

// ExportRules returns the rule document as JSON.
func (s *Service) ExportRules(ctx context.Context) ([]byte, error) {
	return s.rules.Export()
}

// ImportRules replaces the rule set from an exported document. Both the
// wrapped {"rules": [...]} document and a bare rule array are accepted.
func (s *Service) ImportRules(ctx context.Context, data []byte) (int, error) {
	var doc struct {
		Rules []rules.Rule `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Rules == nil {
		var bare []rules.Rule
		if err := json.Unmarshal(data, &bare); err != nil {
			return 0, &tabcap.CodedError{Code: tabcap.CodeValidation, Message: "invalid rules document", Cause: err}
		}
		doc.Rules = bare
	}
	for i := range doc.Rules {
		doc.Rules[i].Volume = clampVolume(doc.Rules[i].Volume)
	}
	if err := s.rules.ReplaceAll(doc.Rules); err != nil {
		return 0, &tabcap.CodedError{Code: tabcap.CodeValidation, Message: "import rejected", Cause: err}
	}
	return len(doc.Rules), nil
}
