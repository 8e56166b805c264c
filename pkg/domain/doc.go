// Package domain holds the data model shared by the orchestrator: graphs and
// steps, capability descriptors and their method schemas, composite
// definitions, execution logs, verdicts and stored execution records.
package domain
