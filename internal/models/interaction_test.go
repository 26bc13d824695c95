package models

import "testing"

func TestTrafficSource(t *testing.T) {
	tests := []struct {
		name string
		ev   Interaction
		want string
	}{
		{"fbclid", Interaction{FBCLID: "fb.1"}, SourceFacebook},
		{"utm facebook", Interaction{UTMSource: "Facebook"}, SourceFacebook},
		{"gclid", Interaction{GCLID: "g.1"}, SourceGoogle},
		{"utm google", Interaction{UTMSource: "google"}, SourceGoogle},
		{"instagram referrer", Interaction{Referrer: "https://l.instagram.com/x"}, SourceInstagram},
		{"ttclid", Interaction{TTCLID: "tt.1"}, SourceTikTok},
		{"email medium", Interaction{UTMMedium: "email"}, SourceEmail},
		{"no signal", Interaction{}, SourceDirect},
		{"plain referrer", Interaction{Referrer: "https://blog.example.com"}, SourceOrganic},
		{"click id beats referrer", Interaction{FBCLID: "fb.1", Referrer: "https://blog.example.com"}, SourceFacebook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.TrafficSource(); got != tt.want {
				t.Errorf("TrafficSource() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClickIDPlatformPrecedence(t *testing.T) {
	ev := Interaction{GCLID: "g", FBCLID: "fb"}
	if got := ev.ClickIDPlatform(); got != PlatformGoogle {
		t.Errorf("ClickIDPlatform() = %q, want %q", got, PlatformGoogle)
	}
	if got := (&Interaction{}).ClickIDPlatform(); got != "" {
		t.Errorf("ClickIDPlatform() = %q, want empty", got)
	}
}

func TestIsPageViewLegacyRows(t *testing.T) {
	if !(&Interaction{Type: InteractionPageView}).IsPageView() {
		t.Error("typed page view not recognized")
	}
	if !(&Interaction{}).IsPageView() {
		t.Error("legacy untyped row must count as a page view")
	}
	if (&Interaction{Type: InteractionPurchase}).IsPageView() {
		t.Error("purchase counted as page view")
	}
}
