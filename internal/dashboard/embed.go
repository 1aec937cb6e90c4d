// ABOUTME: Embeds the dashboard HTML templates into the binary using go:embed
// ABOUTME: Provides templateFS for loading templates at runtime

package dashboard

import "embed"

//go:embed templates/*.html
var templateFS embed.FS
