// Package agents provides the ready-made pipeline agents: pass-through and
// debugging helpers, bounded and cron-gated sources, JSON file endpoints,
// batching, and the two provenance-driven aggregators (list collection and
// multi-port join).
//
// Every agent registers a factory under its kind so YAML-defined pipelines
// can construct it; import the package for side effects when building from
// config.
package agents
