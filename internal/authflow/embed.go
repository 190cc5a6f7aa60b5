// ABOUTME: Embeds the approval page template and its markdown copy
// ABOUTME: Provides templateFS for parsing at startup

package authflow

import "embed"

//go:embed templates/approve.html templates/approve.md
var templateFS embed.FS
