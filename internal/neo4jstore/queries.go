package neo4jstore

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Relationship types cannot be parameters in Cypher. Every kind spliced
// into a query has passed stops.ValidRelationshipKind.

func usageQuery(kind string) string {
	return `
		MATCH (s:Stop)
		OPTIONAL MATCH (s)<-[u:` + kind + `]-()
		RETURN s.id AS id, count(u) AS n`
}

// redirectQuery re-creates up to $limit relationships of kind on the root
// of their member stop, copying properties, and deletes the originals.
func redirectQuery(kind string) string {
	return `
		MATCH (x)-[r:` + kind + `]->(:Stop)-[:IN_CLUSTER]->(c:ClusterStop)
		WITH x, r, c
		ORDER BY id(r)
		LIMIT $limit
		CREATE (x)-[moved:` + kind + `]->(c)
		SET moved = properties(r)
		DELETE r
		RETURN count(moved) AS n`
}

const positionsQuery = `
	MATCH (c:ClusterStop)
	OPTIONAL MATCH (c)<-[:IN_CLUSTER]-(s:Stop)
	WITH c, [c] + collect(s) AS members
	SET c.cluster_lat = reduce(t = 0.0, m IN members | t + m.lat) / size(members),
	    c.cluster_lon = reduce(t = 0.0, m IN members | t + m.lon) / size(members)
	RETURN count(c) AS n`

func intValue(rec *neo4j.Record, key string) (int64, error) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, fmt.Errorf("record has no %q", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%q is %T, want int64", key, v)
	}
	return n, nil
}

func floatValue(rec *neo4j.Record, key string) (float64, error) {
	v, ok := rec.Get(key)
	if !ok {
		return 0, fmt.Errorf("record has no %q", key)
	}
	switch f := v.(type) {
	case float64:
		return f, nil
	case int64:
		return float64(f), nil
	}
	return 0, fmt.Errorf("%q is %T, want float64", key, v)
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}
