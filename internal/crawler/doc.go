// Package crawler defines the crawl specification exchanged on the task queue,
// the registry of parsers, pipelines and finalizers a specification may name,
// and a colly-backed crawl engine.
package crawler
