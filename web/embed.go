// Package webassets embeds the server-rendered page templates.
package webassets

import "embed"

//go:embed templates/*.html
var Templates embed.FS
