// Package api serves the read-only JSON endpoints dashboards consume:
// active alerts, incidents, violations, integration health and the
// notification queue. It never exposes mutation - operator actions go
// through the host application, which calls the monitor directly.
package api
