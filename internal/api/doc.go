// Package api is the HTTP transport of the progress engine. It decodes and
// validates requests, resolves the authenticated user, calls progress.Engine
// and maps engine errors onto status codes with sanitized messages.
package api
