// Package discovery defines the domain of the discovery cache: statuses,
// cache entries, observations, crawl sessions and the error taxonomy, plus
// the Cache, SessionStore, Prober and Classifier interfaces the rest of the
// module depends on. Merge holds the write rules every Cache backend follows.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package discovery
