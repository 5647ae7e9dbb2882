// Package rules holds the declarative rule model: alert rules with their
// conditions and actions, business/compliance validation rules, suppression
// windows and escalation policies. The Registry owns the loaded set and
// supports wholesale replacement on configuration reload.
package rules
