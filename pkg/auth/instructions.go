package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowCookieExtractionGuide writes step-by-step instructions for copying the
// x.com session cookies out of a browser.
func ShowCookieExtractionGuide(w io.Writer) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "X SESSION COOKIE GUIDE")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The session API and scrape strategies need the cookies of a logged-in x.com session.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Open https://x.com in your browser and log in.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 2: Open Developer Tools (F12, or Cmd+Option+I on macOS).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 3: Application tab (Chrome) or Storage tab (Firefox) > Cookies > https://x.com")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 4: Copy these values:")
	fmt.Fprintln(w, "   auth_token   40 hex characters")
	fmt.Fprintln(w, "   ct0          long hex string, sent back as the x-csrf-token header")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A paid API bearer token is optional. It comes from the developer portal")
	fmt.Fprintln(w, "under your project's Keys and tokens page.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SECURITY: auth_token grants full access to the account. Never share it.")
	fmt.Fprintln(w, "Logging out of the browser session invalidates it.")
	fmt.Fprintln(w, rule)
}

// ShowQuickExtractGuide writes a one-line reminder
func ShowQuickExtractGuide(w io.Writer) {
	fmt.Fprintln(w, "F12 > Application > Cookies > https://x.com: copy auth_token and ct0 (type 'help' for details)")
}
