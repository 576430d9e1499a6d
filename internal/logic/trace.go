package logic

import "github.com/patrickwarner/adrotator/internal/models"

// TraceStep records the candidate campaigns present at a selection stage.
type TraceStep struct {
	Stage       string            `json:"stage"`
	CampaignIDs []string          `json:"campaign_ids"`
	Details     map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage using the supplied campaigns.
func (t *SelectionTrace) AddStep(stage string, campaigns []models.Campaign) {
	t.AddStepWithDetails(stage, campaigns, nil)
}

// AddStepWithDetails appends a trace entry with additional details about filtering.
func (t *SelectionTrace) AddStepWithDetails(stage string, campaigns []models.Campaign, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, CampaignIDs: make([]string, 0, len(campaigns)), Details: details}
	for _, c := range campaigns {
		step.CampaignIDs = append(step.CampaignIDs, c.ID)
	}
	t.Steps = append(t.Steps, step)
}

// Stage returns the first step recorded for stage, or nil.
func (t *SelectionTrace) Stage(stage string) *TraceStep {
	if t == nil {
		return nil
	}
	for i := range t.Steps {
		if t.Steps[i].Stage == stage {
			return &t.Steps[i]
		}
	}
	return nil
}
