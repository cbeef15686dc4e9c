// Package crawler defines the shared snapshot domain types, the capability
// interfaces the pipeline stages depend on, and the crawl graph builder that
// discovers every internal page of a site.
package crawler
