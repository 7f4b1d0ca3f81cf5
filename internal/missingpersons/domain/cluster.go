package domain

import (
	"github.com/paulmach/orb"
)

// LocationCluster is one map marker: every visible record whose location
// resolved to exactly Position.
type LocationCluster struct {
	Key           string          `json:"key"`
	Position      Coordinate      `json:"position"`
	LocationLabel string          `json:"locationLabel"`
	Members       []PersonSummary `json:"members"`
}

// Contains reports whether personID is a member of the cluster.
func (c LocationCluster) Contains(personID int64) bool {
	for _, m := range c.Members {
		if m.ID == personID {
			return true
		}
	}
	return false
}

// ClusterResult is the output of BuildClusters.
type ClusterResult struct {
	Clusters []LocationCluster
	// Dropped holds the ids of records whose location did not resolve.
	Dropped []int64
}

// Bounds is the bounding box of all cluster positions.
type Bounds struct {
	SouthWest Coordinate `json:"southWest"`
	NorthEast Coordinate `json:"northEast"`
	Center    Coordinate `json:"center"`
}

// BuildClusters groups records by their exact resolved coordinate.
//
// Records missing from resolved are dropped and reported in Dropped.
// Clusters appear in order of their first member; members keep input order;
// LocationLabel is the raw text of the first member.
func BuildClusters(records []MissingPersonRecord, resolved map[string]Coordinate) ClusterResult {
	result := ClusterResult{Clusters: make([]LocationCluster, 0)}
	index := make(map[string]int)

	for _, r := range records {
		pos, ok := resolved[r.LastSeenLocation]
		if !ok {
			result.Dropped = append(result.Dropped, r.ID)
			continue
		}

		key := pos.Key()
		i, exists := index[key]
		if !exists {
			i = len(result.Clusters)
			index[key] = i
			result.Clusters = append(result.Clusters, LocationCluster{
				Key:           key,
				Position:      pos,
				LocationLabel: r.LastSeenLocation,
			})
		}
		result.Clusters[i].Members = append(result.Clusters[i].Members, r.Summary())
	}

	return result
}

// FindCluster returns the cluster containing personID. The scan is linear;
// a dashboard holds at most a few hundred markers.
func FindCluster(clusters []LocationCluster, personID int64) (LocationCluster, bool) {
	for _, c := range clusters {
		if c.Contains(personID) {
			return c, true
		}
	}
	return LocationCluster{}, false
}

// ClusterBounds returns the box enclosing every cluster, or false when there
// are none.
func ClusterBounds(clusters []LocationCluster) (Bounds, bool) {
	if len(clusters) == 0 {
		return Bounds{}, false
	}

	points := make(orb.MultiPoint, 0, len(clusters))
	for _, c := range clusters {
		points = append(points, orb.Point{c.Position.Lon, c.Position.Lat})
	}

	bound := points.Bound()
	center := bound.Center()
	return Bounds{
		SouthWest: Coordinate{Lat: bound.Min.Lat(), Lon: bound.Min.Lon()},
		NorthEast: Coordinate{Lat: bound.Max.Lat(), Lon: bound.Max.Lon()},
		Center:    Coordinate{Lat: center.Lat(), Lon: center.Lon()},
	}, true
}
