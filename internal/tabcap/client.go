// Package tabcap is the platform capture facility: it tracks open browser
// tabs over the Chrome DevTools Protocol, assigns them stable integer ids,
// grants opaque capture handles, and reports tab-closed events.
package tabcap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/tabgain/internal/types"
)

// Client manages the CDP connection and the tab registry. Tab ids are
// process-lifetime-unique: a closed tab's id is never handed out again.
type Client struct {
	cdpURL string

	mu          sync.Mutex
	cdp         *rawCDP
	allocCtx    context.Context
	allocCancel context.CancelFunc
	byTarget    map[target.ID]types.TabID
	tabs        map[types.TabID]types.TabInfo
	granted     map[types.TabID]bool
	nextID      types.TabID
	unsubscribe []func()

	onClosed func(types.TabID)
	handleSeq atomic.Int64
}

func NewClient(cdpURL string) *Client {
	return &Client{
		cdpURL:   cdpURL,
		byTarget: make(map[target.ID]types.TabID),
		tabs:     make(map[types.TabID]types.TabInfo),
		granted:  make(map[types.TabID]bool),
	}
}

// OnTabClosed registers the tab-closed callback. Must be called before
// Connect; the callback fires from the CDP read loop and must not block.
func (c *Client) OnTabClosed(fn func(types.TabID)) {
	c.onClosed = fn
}

// Connect verifies the browser is reachable through chromedp, registers the
// currently open page targets, then switches to the browser-level event
// stream for create/destroy tracking.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}
	slog.Info("tabcap connect start", "cdp_url", c.cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	probeCtx, probeCancel := chromedp.NewContext(c.allocCtx)
	defer probeCancel()

	if err := chromedp.Run(probeCtx); err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to browser failed", err)
	}
	targets, err := chromedp.Targets(probeCtx)
	if err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "enumerate targets failed", err)
	}
	for _, t := range targets {
		c.registerLocked(t.TargetID, t.URL, t.Title, t.Type)
	}

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	c.unsubscribe = append(c.unsubscribe,
		c.cdp.registerEventHandler("Target.targetCreated", c.handleTargetCreated),
		c.cdp.registerEventHandler("Target.targetInfoChanged", c.handleTargetInfoChanged),
		c.cdp.registerEventHandler("Target.targetDestroyed", c.handleTargetDestroyed),
	)
	if err := c.cdp.setDiscoverTargets(ctx); err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "enable target discovery failed", err)
	}

	slog.Info("tabcap connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
	if c.cdp != nil {
		c.cdp.close()
		c.cdp = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	c.byTarget = make(map[target.ID]types.TabID)
	c.tabs = make(map[types.TabID]types.TabInfo)
	c.granted = make(map[types.TabID]bool)
}

// registerLocked assigns a tab id to an unseen page target. Non-page and
// devtools targets are ignored.
func (c *Client) registerLocked(id target.ID, url, title, targetType string) {
	if targetType != "" && targetType != "page" {
		return
	}
	if strings.HasPrefix(url, "devtools://") || strings.HasPrefix(url, "chrome-extension://") {
		return
	}
	if tabID, seen := c.byTarget[id]; seen {
		info := c.tabs[tabID]
		info.URL = url
		info.Title = title
		c.tabs[tabID] = info
		return
	}
	c.nextID++
	c.byTarget[id] = c.nextID
	c.tabs[c.nextID] = types.TabInfo{ID: c.nextID, TargetID: string(id), URL: url, Title: title}
	slog.Debug("tab registered", "tab", c.nextID, "url", url)
}

type targetEventParams struct {
	TargetID   target.ID `json:"targetId"`
	TargetInfo *struct {
		TargetID target.ID `json:"targetId"`
		Type     string    `json:"type"`
		Title    string    `json:"title"`
		URL      string    `json:"url"`
	} `json:"targetInfo"`
}

func (c *Client) handleTargetCreated(params json.RawMessage) {
	var ev targetEventParams
	if err := unmarshalEvent(params, &ev); err != nil || ev.TargetInfo == nil {
		return
	}
	c.mu.Lock()
	c.registerLocked(ev.TargetInfo.TargetID, ev.TargetInfo.URL, ev.TargetInfo.Title, ev.TargetInfo.Type)
	c.mu.Unlock()
}

func (c *Client) handleTargetInfoChanged(params json.RawMessage) {
	c.handleTargetCreated(params)
}

func (c *Client) handleTargetDestroyed(params json.RawMessage) {
	var ev targetEventParams
	if err := unmarshalEvent(params, &ev); err != nil {
		return
	}
	c.mu.Lock()
	tabID, seen := c.byTarget[ev.TargetID]
	if seen {
		delete(c.byTarget, ev.TargetID)
		delete(c.tabs, tabID)
		delete(c.granted, tabID)
	}
	onClosed := c.onClosed
	c.mu.Unlock()

	if seen {
		slog.Info("tab closed", "tab", tabID)
		if onClosed != nil {
			onClosed(tabID)
		}
	}
}

// Tabs refreshes the registry from the browser and returns all known tabs
// ordered by id.
func (c *Client) Tabs(ctx context.Context) ([]types.TabInfo, error) {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return nil, newError(CodeCDPUnavailable, "not connected", nil)
	}

	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "list targets failed", err)
	}

	c.mu.Lock()
	for _, t := range targets {
		c.registerLocked(t.TargetID, t.URL, t.Title, t.Type)
	}
	out := make([]types.TabInfo, 0, len(c.tabs))
	for _, info := range c.tabs {
		out = append(out, info)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup returns the registered metadata for a tab id.
func (c *Client) Lookup(id types.TabID) (types.TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.tabs[id]
	return info, ok
}

// Grant issues an opaque capture handle for the tab. The grant fails when
// the tab is unknown, already gone, or already captured: a tab holds at most
// one outstanding grant, released when the tab closes.
func (c *Client) Grant(ctx context.Context, tab types.TabID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tabs[tab]; !ok {
		return "", newError(CodeTabNotFound, fmt.Sprintf("tab %d not found", tab), nil)
	}
	if c.granted[tab] {
		return "", newError(CodeCaptureDenied, fmt.Sprintf("tab %d is already captured", tab), nil)
	}
	c.granted[tab] = true
	handle := fmt.Sprintf("cap-%d-%d", tab, c.handleSeq.Add(1))
	slog.Debug("capture handle granted", "tab", tab, "handle", handle)
	return handle, nil
}

func unmarshalEvent(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("empty event params")
	}
	return json.Unmarshal(params, v)
}
