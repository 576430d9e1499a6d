package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/service"
)

// toolTimeout bounds every tool call so a slow store cannot hang the client.
const toolTimeout = 10 * time.Second

type CampaignLister interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

type ListCampaignsInput struct {
	ActiveOnly bool `json:"active_only,omitempty" jsonschema:"only return campaigns that can currently be served"`
}

type CampaignSummary struct {
	ID             string  `json:"id"`
	AdvertiserName string  `json:"advertiser_name"`
	IsActive       bool    `json:"is_active"`
	Servable       bool    `json:"servable"`
	TotalViews     int64   `json:"total_views"`
	TotalClicks    int64   `json:"total_clicks"`
	CTR            float64 `json:"ctr"`
	ClickAnomaly   bool    `json:"click_anomaly"`
}

type ListCampaignsOutput struct {
	Campaigns []CampaignSummary `json:"campaigns"`
}

type PreviewAdInput struct {
	ViewerKey string `json:"viewer_key" jsonschema:"opaque viewer identifier; empty previews an anonymous viewer"`
}

type PreviewAdOutput struct {
	ViewerKey string                `json:"viewer_key"`
	AdID      string                `json:"ad_id,omitempty"`
	Partition string                `json:"partition"`
	Trace     *logic.SelectionTrace `json:"trace"`
}

type ViewerHistoryInput struct {
	ViewerKey string `json:"viewer_key" jsonschema:"opaque viewer identifier"`
}

type SeenEntry struct {
	AdID   string `json:"ad_id"`
	SeenAt string `json:"seen_at"`
}

type ViewerHistoryOutput struct {
	ViewerKey string      `json:"viewer_key"`
	Seen      []SeenEntry `json:"seen"`
}

// RotatorTools exposes read-only views of the rotation state to MCP clients.
type RotatorTools struct {
	repo             CampaignLister
	ads              *service.AdService
	seen             *logic.SeenTracker
	anomalyTolerance int64
	logger           *zap.Logger
}

// ListCampaigns returns every campaign with its counters, CTR and whether
// clicks have run ahead of views.
func (s *RotatorTools) ListCampaigns(ctx context.Context, _ *mcp.CallToolRequest, input ListCampaignsInput) (*mcp.CallToolResult, ListCampaignsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return nil, ListCampaignsOutput{}, fmt.Errorf("list campaigns: %w", err)
	}

	out := ListCampaignsOutput{Campaigns: make([]CampaignSummary, 0, len(campaigns))}
	for _, c := range campaigns {
		if input.ActiveOnly && !c.Servable() {
			continue
		}
		counters := models.Counters{Views: c.TotalViews, Clicks: c.TotalClicks}
		out.Campaigns = append(out.Campaigns, CampaignSummary{
			ID:             c.ID,
			AdvertiserName: c.AdvertiserName,
			IsActive:       c.IsActive,
			Servable:       c.Servable(),
			TotalViews:     c.TotalViews,
			TotalClicks:    c.TotalClicks,
			CTR:            c.CTR(),
			ClickAnomaly:   counters.ClickAnomaly(s.anomalyTolerance),
		})
	}
	s.logger.Info("listed campaigns", zap.Int("count", len(out.Campaigns)))
	return nil, out, nil
}

// PreviewAd runs the selection for a viewer without recording a view.
func (s *RotatorTools) PreviewAd(ctx context.Context, _ *mcp.CallToolRequest, input PreviewAdInput) (*mcp.CallToolResult, PreviewAdOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	tr := &logic.SelectionTrace{}
	sel := s.ads.Preview(ctx, input.ViewerKey, tr)
	out := PreviewAdOutput{
		ViewerKey: input.ViewerKey,
		Partition: string(sel.Partition),
		Trace:     tr,
	}
	if sel.Found() {
		out.AdID = sel.Campaign.ID
	}
	return nil, out, nil
}

// ViewerHistory lists what a viewer has seen, most recent first.
func (s *RotatorTools) ViewerHistory(ctx context.Context, _ *mcp.CallToolRequest, input ViewerHistoryInput) (*mcp.CallToolResult, ViewerHistoryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	if input.ViewerKey == "" {
		return nil, ViewerHistoryOutput{}, fmt.Errorf("viewer_key is required")
	}
	seen := s.seen.GetSeen(ctx, input.ViewerKey)
	out := ViewerHistoryOutput{ViewerKey: input.ViewerKey, Seen: make([]SeenEntry, 0, len(seen))}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if !seen[ids[i]].Equal(seen[ids[j]]) {
			return seen[ids[i]].After(seen[ids[j]])
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		out.Seen = append(out.Seen, SeenEntry{AdID: id, SeenAt: seen[id].UTC().Format(time.RFC3339Nano)})
	}
	return nil, out, nil
}

// register adds every tool to server.
func (s *RotatorTools) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_campaigns",
		Description: "List campaigns with their view and click counters, CTR and click anomaly flag",
	}, s.ListCampaigns)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_ad",
		Description: "Show which campaign a viewer would be served next, with the selection trace. Records nothing.",
	}, s.PreviewAd)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "viewer_history",
		Description: "List the campaigns a viewer has seen and when",
	}, s.ViewerHistory)
}
