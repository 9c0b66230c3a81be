// Package domain contains the core concepts of the logo render service:
// material presets, render parameters, results and the error taxonomy.
// Keep this package free of transport (HTTP) and infrastructure (Redis/S3/processes) concerns.
package domain
