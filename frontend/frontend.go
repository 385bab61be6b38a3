// Package frontend embeds the HTML templates served by the climbwall servers.
package frontend

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templates embed.FS

// Templates Parse all embedded templates, they are addressed by file name (index.tmpl, hello.tmpl, ...)
func Templates() *template.Template {
	return template.Must(template.ParseFS(templates, "templates/*.tmpl"))
}
