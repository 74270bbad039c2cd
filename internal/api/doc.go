// Package api hosts the HTTP command/status boundary of the crawler. Notable
// routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status, /v1/countries, /v1/sections for queries.
//   - POST /v1/country, /v1/start, /v1/resume, /v1/clear for commands.
//   - GET /v1/events streams status changes as server-sent events.
//
// Every JSON response carries an "ok" flag; failures add an "error" message.
package api
