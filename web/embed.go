package web

import "embed"

// TemplatesFS embeds the shell pages rendered by the origin server.
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS embeds the assets the offline cache service precaches
// (manifest, icons, css, js).
//go:embed static/*
var StaticFS embed.FS
