package models

import (
	"testing"
	"time"
)

func TestCampaignWithinWindow(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	window := 7 * 24 * time.Hour

	open := Campaign{StartDate: start}
	if open.WithinWindow(start.Add(-time.Hour), window) {
		t.Error("purchase before start must not match")
	}
	if !open.WithinWindow(start.Add(3*24*time.Hour), window) {
		t.Error("purchase inside the default window must match")
	}
	if open.WithinWindow(start.Add(8*24*time.Hour), window) {
		t.Error("purchase past the default window must not match")
	}

	end := start.Add(14 * 24 * time.Hour)
	closed := Campaign{StartDate: start, EndDate: &end}
	if !closed.WithinWindow(start.Add(10*24*time.Hour), window) {
		t.Error("explicit end date overrides the default window")
	}
	if closed.WithinWindow(end.Add(time.Hour), window) {
		t.Error("purchase past the explicit end must not match")
	}
}

func TestCampaignMatchers(t *testing.T) {
	c := Campaign{Filters: UTMFilters{Campaign: "Spring_Sale", Source: "facebook"}}

	if !c.MatchesUTMCampaign("spring_sale") {
		t.Error("utm_campaign match should be case-insensitive")
	}
	if c.MatchesUTMCampaign("") {
		t.Error("empty signal must never match")
	}
	if !c.MatchesUTMSource("Facebook") {
		t.Error("utm_source match should be case-insensitive")
	}
	unfiltered := Campaign{}
	if unfiltered.MatchesUTMCampaign("spring_sale") {
		t.Error("campaign without a filter must not match")
	}
}

func TestCampaignValidate(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	endBefore := start.Add(-time.Hour)

	tests := []struct {
		name    string
		c       Campaign
		wantErr error
	}{
		{"valid", Campaign{Title: "Spring", Type: CampaignEmail, StartDate: start}, nil},
		{"missing title", Campaign{Type: CampaignEmail, StartDate: start}, ErrCampaignTitleRequired},
		{"unknown type", Campaign{Title: "x", Type: "billboard", StartDate: start}, ErrCampaignTypeUnknown},
		{"end before start", Campaign{Title: "x", Type: CampaignEmail, StartDate: start, EndDate: &endBefore}, ErrCampaignWindowOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.c.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
