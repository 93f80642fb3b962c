// Package unify holds the store-independent core of stop unification: the
// four-case identity merge rule, an arena union-find over cluster state,
// usage-ranked root selection, integrity checks, redirect planning and the
// Pipeline that drives a GraphStore through the steps in order.
package unify
