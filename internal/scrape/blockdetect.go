package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockAkamai     BlockType = "akamai"
	BlockPerimeterX BlockType = "perimeterx"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// challengeBodyLimit is the body size under which captcha markers are
// treated as a challenge page. Full property pages often load captcha
// scripts for their booking forms.
const challengeBodyLimit = 20_000

// DetectBlock checks a property page response for signs of anti-bot
// protection. A blocked page is retried with the browser scraper.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
		if strings.HasPrefix(strings.ToLower(resp.Header.Get("server")), "akamaighost") {
			return true, BlockAkamai
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	// Akamai edge denial: "Access Denied ... Reference #18.xxxx".
	if strings.Contains(lower, "access denied") && strings.Contains(lower, "reference #") {
		return true, BlockAkamai
	}

	if strings.Contains(lower, "px-captcha") || strings.Contains(lower, "_pxappid") {
		return true, BlockPerimeterX
	}

	if len(body) < challengeBodyLimit &&
		(strings.Contains(lower, "captcha") ||
			strings.Contains(lower, "recaptcha") ||
			strings.Contains(lower, "hcaptcha")) {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
