package probe

import "strings"

// Anti-bot levels reported in snapshots and fed into generation prompts.
const (
	AntiBotNone   = "none"
	AntiBotLow    = "low"
	AntiBotMedium = "medium"
	AntiBotHigh   = "high"
)

// Detected feature labels.
const (
	FeatureCloudflare = "cloudflare"
	FeatureCaptcha    = "captcha"
	FeatureLoginWall  = "login_wall"
	FeatureRateLimit  = "rate_limited"
)

// DetectAntiBot inspects the fetched HTML and the HTTP status for signs of
// bot countermeasures. The level escalates with the strength of the signal:
// a challenge page or captcha means generated code will not get through with
// plain requests; a login wall or rate limit needs careful handling; a bare
// Cloudflare marker is only a hint.
func DetectAntiBot(html string, status int) (string, []string) {
	lower := strings.ToLower(html)
	var features []string

	challenged := strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "challenge-platform") ||
		strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "just a moment...")
	if challenged || strings.Contains(lower, "cloudflare") {
		features = append(features, FeatureCloudflare)
	}

	captcha := strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "cf-turnstile")
	if captcha {
		features = append(features, FeatureCaptcha)
	}

	loginWall := strings.Contains(lower, `type="password"`) ||
		strings.Contains(lower, "sign in to continue") ||
		strings.Contains(lower, "log in to continue")
	if loginWall {
		features = append(features, FeatureLoginWall)
	}

	rateLimited := status == 429 || status == 403
	if rateLimited {
		features = append(features, FeatureRateLimit)
	}

	switch {
	case challenged || captcha:
		return AntiBotHigh, features
	case loginWall || rateLimited:
		return AntiBotMedium, features
	case len(features) > 0:
		return AntiBotLow, features
	default:
		return AntiBotNone, nil
	}
}
