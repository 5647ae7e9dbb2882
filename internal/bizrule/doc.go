// Package bizrule validates domain payloads against named business and
// compliance rules, computes a 0-100 score with severity-weighted penalties,
// applies registered auto-correction strategies and keeps an audit ledger of
// recorded violations.
package bizrule
