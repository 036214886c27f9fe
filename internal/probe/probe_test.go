package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDetectAntiBot(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		status    int
		wantLevel string
		wantFeat  string
	}{
		{"clean page", "<html><body><h1>Products</h1></body></html>", 200, AntiBotNone, ""},
		{"cloudflare challenge", "<html>Checking your browser... challenge-platform</html>", 503, AntiBotHigh, FeatureCloudflare},
		{"recaptcha", `<div class="g-recaptcha"></div>`, 200, AntiBotHigh, FeatureCaptcha},
		{"turnstile", `<div class="cf-turnstile"></div>`, 200, AntiBotHigh, FeatureCaptcha},
		{"login wall", `<input type="password">`, 200, AntiBotMedium, FeatureLoginWall},
		{"rate limited", "<html>slow down</html>", 429, AntiBotMedium, FeatureRateLimit},
		{"cloudflare mention only", "<!-- served by cloudflare -->", 200, AntiBotLow, FeatureCloudflare},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, features := DetectAntiBot(tt.html, tt.status)
			if level != tt.wantLevel {
				t.Errorf("level = %s, want %s", level, tt.wantLevel)
			}
			if tt.wantFeat == "" {
				if len(features) != 0 {
					t.Errorf("features = %v, want none", features)
				}
				return
			}
			found := false
			for _, f := range features {
				if f == tt.wantFeat {
					found = true
				}
			}
			if !found {
				t.Errorf("features = %v, want %s present", features, tt.wantFeat)
			}
		})
	}
}

func TestHTTPProberSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Widget Shop</title></head>
<body><article><h1>Widget Shop</h1><p>Fine widgets at fair prices since 1999. Our catalog covers every widget variety.</p></article></body></html>`))
	}))
	defer srv.Close()

	p := NewHTTPProber(5 * time.Second)
	snap, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != 200 {
		t.Errorf("Status = %d, want 200", snap.Status)
	}
	if snap.Title != "Widget Shop" {
		t.Errorf("Title = %q, want Widget Shop", snap.Title)
	}
	if !strings.Contains(snap.Text, "Fine widgets") {
		t.Errorf("Text = %q, want page content", snap.Text)
	}
	if snap.HTMLHash == "" {
		t.Error("HTMLHash empty")
	}
	if snap.AntiBotLevel != AntiBotNone {
		t.Errorf("AntiBotLevel = %s, want none", snap.AntiBotLevel)
	}
}

func TestHTTPProberUnreachable(t *testing.T) {
	p := NewHTTPProber(500 * time.Millisecond)
	_, err := p.Probe(context.Background(), "http://127.0.0.1:1")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestHTTPProberTextCap(t *testing.T) {
	long := strings.Repeat("sample content and padding ", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article><p>" + long + "</p></article></body></html>"))
	}))
	defer srv.Close()

	p := NewHTTPProber(5 * time.Second)
	p.MaxChars = 100
	snap, err := p.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Text) > 100 {
		t.Errorf("Text length = %d, want capped at 100", len(snap.Text))
	}
}
