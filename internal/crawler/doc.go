// Package crawler defines the domain types, collaborator interfaces, error
// taxonomy and job status state machine shared by the catalog crawl engine.
package crawler
