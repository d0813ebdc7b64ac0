// Package intelligence provides the analysis behind agent memory
// consolidation: similarity clustering, concept extraction and timelines.
package intelligence

import "math"

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Cosine similarity measures the cosine of the angle between two vectors,
// ranging from -1 (opposite) to 1 (identical). Values close to 1 indicate
// high similarity.
//
// Returns 0.0 if vectors have different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Cluster groups items whose embeddings are at least threshold similar.
//
// Items are visited in order; each unclaimed item seeds a cluster and claims
// every later unclaimed item similar enough to it. Only clusters with more
// than one member are returned. The cost is O(n²) similarity computations.
func Cluster(items []Item, threshold float64) [][]Item {
	if len(items) < 2 {
		return nil
	}

	claimed := make([]bool, len(items))
	var clusters [][]Item
	for i := range items {
		if claimed[i] {
			continue
		}
		claimed[i] = true
		cluster := []Item{items[i]}
		for j := i + 1; j < len(items); j++ {
			if claimed[j] {
				continue
			}
			if CosineSimilarity(items[i].Embedding, items[j].Embedding) >= threshold {
				claimed[j] = true
				cluster = append(cluster, items[j])
			}
		}
		if len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}
