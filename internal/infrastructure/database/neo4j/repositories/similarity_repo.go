package repositories

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	driver "github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

const (
	// maxNeighborhoodDepth caps variable-length traversals before they blow up
	// on dense similarity graphs.
	maxNeighborhoodDepth = 5
	// maxPathHops bounds shortestPath searches.
	maxPathHops = 10
)

var ErrDepthOutOfRange = errors.Newf(errors.ErrCodeValidation, "neighborhood depth must be between 1 and %d", maxNeighborhoodDepth)

// SimilarityGraphRepository persists sequences and their kNN similarity edges
// in Neo4j and answers traversal queries over them.
type SimilarityGraphRepository interface {
	EnsureSchema(ctx context.Context) error
	EnsureSequenceNode(ctx context.Context, node *SequenceNodeData) error
	BatchEnsureSequenceNodes(ctx context.Context, nodes []*SequenceNodeData) (int64, error)
	LinkSimilar(ctx context.Context, edge *SimilarityEdge) error
	BatchLinkSimilar(ctx context.Context, edges []*SimilarityEdge) (int64, error)
	Neighborhood(ctx context.Context, seqID string, depth int) (*Neighborhood, error)
	ShortestPath(ctx context.Context, fromID, toID string) (*SimilarityPath, error)
	DegreeStats(ctx context.Context, seqID string) (*NodeDegree, error)
	TopHubs(ctx context.Context, dataset *string, limit int) ([]*NodeDegree, error)
	GraphStats(ctx context.Context) (*GraphStats, error)
	RemoveSequence(ctx context.Context, seqID string) error
	RemoveDataset(ctx context.Context, dataset string) (int64, error)
}

// SequenceNodeData is the graph projection of a stored sequence.
type SequenceNodeData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Label    string `json:"label"`
	Dataset  string `json:"dataset"`
	Length   int    `json:"length"`
	Checksum string `json:"checksum"`
}

// SimilarityEdge is one directed kNN hit.  Identity is (from, to, encoder);
// distance and rank are refreshed when the same pair is linked again.
type SimilarityEdge struct {
	FromID   string               `json:"from_id"`
	ToID     string               `json:"to_id"`
	Encoder  seqtypes.EncoderKind `json:"encoder"`
	Distance float64              `json:"distance"`
	Rank     int                  `json:"rank"`
}

// Neighborhood is the subgraph reachable from a center sequence.
type Neighborhood struct {
	CenterID string              `json:"center_id"`
	Depth    int                 `json:"depth"`
	Nodes    []*SequenceNodeData `json:"nodes"`
	Edges    []*SimilarityEdge   `json:"edges"`
}

// SimilarityPath is a shortest chain of SIMILAR_TO hops between two sequences.
type SimilarityPath struct {
	SequenceIDs   []string  `json:"sequence_ids"`
	Distances     []float64 `json:"distances"`
	Hops          int       `json:"hops"`
	TotalDistance float64   `json:"total_distance"`
}

// NodeDegree reports how connected one sequence is.
type NodeDegree struct {
	SequenceID string `json:"sequence_id"`
	Name       string `json:"name"`
	Dataset    string `json:"dataset"`
	Degree     int64  `json:"degree"`
	OutDegree  int64  `json:"out_degree"`
	InDegree   int64  `json:"in_degree"`
}

// GraphStats summarizes the whole similarity graph.
type GraphStats struct {
	TotalSequences     int64            `json:"total_sequences"`
	TotalLinks         int64            `json:"total_links"`
	SequencesByDataset map[string]int64 `json:"sequences_by_dataset"`
	LinksByEncoder     map[string]int64 `json:"links_by_encoder"`
}

type similarityGraphRepo struct {
	exec driver.Executor
	log  logging.Logger
}

// NewSimilarityGraphRepo builds the repository on top of a driver executor.
func NewSimilarityGraphRepo(exec driver.Executor, log logging.Logger) SimilarityGraphRepository {
	return &similarityGraphRepo{
		exec: exec,
		log:  log,
	}
}

// EnsureSchema creates the uniqueness constraint and lookup indexes.  Each
// statement runs in its own transaction because Neo4j rejects schema and data
// changes in the same one.
func (r *similarityGraphRepo) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT sequence_id_unique IF NOT EXISTS FOR (s:Sequence) REQUIRE s.id IS UNIQUE`,
		`CREATE INDEX sequence_dataset_idx IF NOT EXISTS FOR (s:Sequence) ON (s.dataset)`,
		`CREATE INDEX sequence_label_idx IF NOT EXISTS FOR (s:Sequence) ON (s.label)`,
	}
	for _, stmt := range statements {
		stmt := stmt
		_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	r.log.Info("Ensured similarity graph schema")
	return nil
}

func (r *similarityGraphRepo) EnsureSequenceNode(ctx context.Context, node *SequenceNodeData) error {
	query := `
		MERGE (s:Sequence {id: $id})
		ON CREATE SET s.name = $name, s.label = $label, s.dataset = $dataset, s.length = $length, s.checksum = $checksum, s.created_at = datetime()
		ON MATCH SET s.name = $name, s.label = $label, s.dataset = $dataset, s.length = $length, s.checksum = $checksum
	`
	params := map[string]any{
		"id":       node.ID,
		"name":     node.Name,
		"label":    node.Label,
		"dataset":  node.Dataset,
		"length":   node.Length,
		"checksum": node.Checksum,
	}

	_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (r *similarityGraphRepo) BatchEnsureSequenceNodes(ctx context.Context, nodes []*SequenceNodeData) (int64, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	query := `
		UNWIND $batch AS row
		MERGE (s:Sequence {id: row.id})
		ON CREATE SET s.name = row.name, s.label = row.label, s.dataset = row.dataset, s.length = row.length, s.checksum = row.checksum, s.created_at = datetime()
		ON MATCH SET s.name = row.name, s.label = row.label, s.dataset = row.dataset, s.length = row.length, s.checksum = row.checksum
	`
	batch := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		batch = append(batch, map[string]any{
			"id":       n.ID,
			"name":     n.Name,
			"label":    n.Label,
			"dataset":  n.Dataset,
			"length":   n.Length,
			"checksum": n.Checksum,
		})
	}

	created, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"batch": batch})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return int64(summary.Counters().NodesCreated()), nil
	})
	if err != nil {
		return 0, err
	}
	return created.(int64), nil
}

func (r *similarityGraphRepo) LinkSimilar(ctx context.Context, edge *SimilarityEdge) error {
	query := `
		MATCH (a:Sequence {id: $fromId}), (b:Sequence {id: $toId})
		MERGE (a)-[r:SIMILAR_TO {encoder: $encoder}]->(b)
		ON CREATE SET r.created_at = datetime()
		SET r.distance = $distance, r.rank = $rank
		RETURN r.rank
	`
	params := map[string]any{
		"fromId":   edge.FromID,
		"toId":     edge.ToID,
		"encoder":  string(edge.Encoder),
		"distance": edge.Distance,
		"rank":     edge.Rank,
	}

	_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		// No row back means the MATCH found nothing to link.
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, errors.Newf(errors.ErrCodeNotFound, "sequences %s and %s must both exist before linking", edge.FromID, edge.ToID)
		}
		return nil, nil
	})
	return err
}

func (r *similarityGraphRepo) BatchLinkSimilar(ctx context.Context, edges []*SimilarityEdge) (int64, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	query := `
		UNWIND $batch AS row
		MATCH (a:Sequence {id: row.from_id}), (b:Sequence {id: row.to_id})
		MERGE (a)-[r:SIMILAR_TO {encoder: row.encoder}]->(b)
		ON CREATE SET r.created_at = datetime()
		SET r.distance = row.distance, r.rank = row.rank
		RETURN count(r) AS linked
	`
	batch := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		batch = append(batch, map[string]any{
			"from_id":  e.FromID,
			"to_id":    e.ToID,
			"encoder":  string(e.Encoder),
			"distance": e.Distance,
			"rank":     e.Rank,
		})
	}

	linked, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"batch": batch})
		if err != nil {
			return nil, err
		}
		if result.Next(ctx) {
			if n, ok := result.Record().Values[0].(int64); ok {
				return n, nil
			}
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return int64(0), nil
	})
	if err != nil {
		return 0, err
	}

	count := linked.(int64)
	if count < int64(len(edges)) {
		r.log.Warn("Some similarity edges were skipped because an endpoint is missing",
			logging.Int("requested", len(edges)),
			logging.Int64("linked", count),
		)
	}
	return count, nil
}

func (r *similarityGraphRepo) Neighborhood(ctx context.Context, seqID string, depth int) (*Neighborhood, error) {
	if depth < 1 || depth > maxNeighborhoodDepth {
		return nil, ErrDepthOutOfRange
	}

	// Cypher does not take the variable-length bound as a parameter, so the
	// validated depth is formatted into the pattern.
	query := fmt.Sprintf(`
		MATCH p = (center:Sequence {id: $id})-[:SIMILAR_TO*1..%d]-(:Sequence)
		UNWIND nodes(p) AS node
		UNWIND relationships(p) AS rel
		RETURN collect(DISTINCT node) AS nodes, collect(DISTINCT rel) AS rels
	`, depth)

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		centerResult, err := tx.Run(ctx, `MATCH (s:Sequence {id: $id}) RETURN s`, map[string]any{"id": seqID})
		if err != nil {
			return nil, err
		}
		center, err := driver.ExtractSingleRecord(ctx, centerResult, func(rec *neo4j.Record) (*SequenceNodeData, error) {
			node, ok := rec.Values[0].(neo4j.Node)
			if !ok {
				return nil, errors.New(errors.ErrCodeSerialization, "unexpected record shape for sequence node")
			}
			return nodeToSequence(node), nil
		})
		if err != nil {
			return nil, err
		}

		nb := &Neighborhood{
			CenterID: seqID,
			Depth:    depth,
			Nodes:    []*SequenceNodeData{center},
		}

		result, err := tx.Run(ctx, query, map[string]any{"id": seqID})
		if err != nil {
			return nil, err
		}
		// An isolated center yields no paths, which is a valid neighborhood.
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nb, nil
		}

		rec := result.Record()
		nodesVal, _ := rec.Get("nodes")
		relsVal, _ := rec.Get("rels")

		idsByElement := make(map[string]string)
		nb.Nodes = nb.Nodes[:0]
		if nodeList, ok := nodesVal.([]any); ok {
			for _, v := range nodeList {
				node, ok := v.(neo4j.Node)
				if !ok {
					continue
				}
				data := nodeToSequence(node)
				idsByElement[node.ElementId] = data.ID
				nb.Nodes = append(nb.Nodes, data)
			}
		}
		if relList, ok := relsVal.([]any); ok {
			for _, v := range relList {
				rel, ok := v.(neo4j.Relationship)
				if !ok {
					continue
				}
				fromID, fromOK := idsByElement[rel.StartElementId]
				toID, toOK := idsByElement[rel.EndElementId]
				if !fromOK || !toOK {
					continue
				}
				nb.Edges = append(nb.Edges, relationshipToEdge(rel, fromID, toID))
			}
		}
		return nb, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Neighborhood), nil
}

func (r *similarityGraphRepo) ShortestPath(ctx context.Context, fromID, toID string) (*SimilarityPath, error) {
	query := fmt.Sprintf(`
		MATCH (a:Sequence {id: $fromId}), (b:Sequence {id: $toId}),
		      p = shortestPath((a)-[:SIMILAR_TO*..%d]-(b))
		RETURN [n IN nodes(p) | n.id] AS ids,
		       [rel IN relationships(p) | rel.distance] AS distances,
		       length(p) AS hops
	`, maxPathHops)
	params := map[string]any{
		"fromId": fromID,
		"toId":   toID,
	}

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return driver.ExtractSingleRecord(ctx, result, func(rec *neo4j.Record) (*SimilarityPath, error) {
			path := &SimilarityPath{}
			if ids, ok := rec.Values[0].([]any); ok {
				for _, id := range ids {
					if s, ok := id.(string); ok {
						path.SequenceIDs = append(path.SequenceIDs, s)
					}
				}
			}
			if distances, ok := rec.Values[1].([]any); ok {
				for _, d := range distances {
					if f, ok := d.(float64); ok {
						path.Distances = append(path.Distances, f)
						path.TotalDistance += f
					}
				}
			}
			if hops, ok := rec.Values[2].(int64); ok {
				path.Hops = int(hops)
			}
			return path, nil
		})
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Newf(errors.ErrCodeNotFound, "no similarity path between %s and %s within %d hops", fromID, toID, maxPathHops)
		}
		return nil, err
	}
	return res.(*SimilarityPath), nil
}

func (r *similarityGraphRepo) DegreeStats(ctx context.Context, seqID string) (*NodeDegree, error) {
	query := `
		MATCH (s:Sequence {id: $id})
		OPTIONAL MATCH (s)-[rel:SIMILAR_TO]-()
		WITH s, count(rel) AS degree,
		     count(CASE WHEN startNode(rel) = s THEN 1 END) AS outDegree
		RETURN s.id AS id, s.name AS name, s.dataset AS dataset, degree, outDegree
	`

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"id": seqID})
		if err != nil {
			return nil, err
		}
		return driver.ExtractSingleRecord(ctx, result, mapNodeDegree)
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, errors.Newf(errors.ErrCodeNotFound, "sequence %s is not in the similarity graph", seqID)
		}
		return nil, err
	}
	return res.(*NodeDegree), nil
}

func (r *similarityGraphRepo) TopHubs(ctx context.Context, dataset *string, limit int) ([]*NodeDegree, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		MATCH (s:Sequence)-[rel:SIMILAR_TO]-()
		WHERE $dataset IS NULL OR s.dataset = $dataset
		WITH s, count(rel) AS degree,
		     count(CASE WHEN startNode(rel) = s THEN 1 END) AS outDegree
		RETURN s.id AS id, s.name AS name, s.dataset AS dataset, degree, outDegree
		ORDER BY degree DESC
		LIMIT $limit
	`
	params := map[string]any{
		"limit": limit,
	}
	if dataset != nil {
		params["dataset"] = *dataset
	} else {
		params["dataset"] = nil
	}

	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, result, mapNodeDegree)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*NodeDegree), nil
}

func (r *similarityGraphRepo) GraphStats(ctx context.Context) (*GraphStats, error) {
	res, err := r.exec.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		stats := &GraphStats{
			SequencesByDataset: make(map[string]int64),
			LinksByEncoder:     make(map[string]int64),
		}

		totals, err := tx.Run(ctx, `
			OPTIONAL MATCH (s:Sequence)
			WITH count(s) AS nodes
			OPTIONAL MATCH ()-[rel:SIMILAR_TO]->()
			RETURN nodes, count(rel) AS links
		`, nil)
		if err != nil {
			return nil, err
		}
		if totals.Next(ctx) {
			rec := totals.Record()
			if n, ok := rec.Values[0].(int64); ok {
				stats.TotalSequences = n
			}
			if n, ok := rec.Values[1].(int64); ok {
				stats.TotalLinks = n
			}
		} else if err := totals.Err(); err != nil {
			return nil, err
		}

		byDataset, err := tx.Run(ctx, `
			MATCH (s:Sequence)
			RETURN s.dataset AS dataset, count(s) AS nodes
		`, nil)
		if err != nil {
			return nil, err
		}
		for byDataset.Next(ctx) {
			rec := byDataset.Record()
			name, _ := rec.Values[0].(string)
			if n, ok := rec.Values[1].(int64); ok {
				stats.SequencesByDataset[name] = n
			}
		}
		if err := byDataset.Err(); err != nil {
			return nil, err
		}

		byEncoder, err := tx.Run(ctx, `
			MATCH ()-[rel:SIMILAR_TO]->()
			RETURN rel.encoder AS encoder, count(rel) AS links
		`, nil)
		if err != nil {
			return nil, err
		}
		for byEncoder.Next(ctx) {
			rec := byEncoder.Record()
			name, _ := rec.Values[0].(string)
			if n, ok := rec.Values[1].(int64); ok {
				stats.LinksByEncoder[name] = n
			}
		}
		if err := byEncoder.Err(); err != nil {
			return nil, err
		}

		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*GraphStats), nil
}

func (r *similarityGraphRepo) RemoveSequence(ctx context.Context, seqID string) error {
	query := `MATCH (s:Sequence {id: $id}) DETACH DELETE s`

	_, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		_, err := tx.Run(ctx, query, map[string]any{"id": seqID})
		return nil, err
	})
	return err
}

func (r *similarityGraphRepo) RemoveDataset(ctx context.Context, dataset string) (int64, error) {
	query := `MATCH (s:Sequence {dataset: $dataset}) DETACH DELETE s`

	deleted, err := r.exec.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"dataset": dataset})
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return int64(summary.Counters().NodesDeleted()), nil
	})
	if err != nil {
		return 0, err
	}

	count := deleted.(int64)
	r.log.Info("Removed dataset from similarity graph",
		logging.String("dataset", dataset),
		logging.Int64("sequences", count),
	)
	return count, nil
}

// ── Record mapping ────────────────────────────────────────────────────────────

func nodeToSequence(n neo4j.Node) *SequenceNodeData {
	data := &SequenceNodeData{}
	if v, ok := n.Props["id"].(string); ok {
		data.ID = v
	}
	if v, ok := n.Props["name"].(string); ok {
		data.Name = v
	}
	if v, ok := n.Props["label"].(string); ok {
		data.Label = v
	}
	if v, ok := n.Props["dataset"].(string); ok {
		data.Dataset = v
	}
	if v, ok := n.Props["length"].(int64); ok {
		data.Length = int(v)
	}
	if v, ok := n.Props["checksum"].(string); ok {
		data.Checksum = v
	}
	return data
}

func relationshipToEdge(rel neo4j.Relationship, fromID, toID string) *SimilarityEdge {
	edge := &SimilarityEdge{
		FromID: fromID,
		ToID:   toID,
	}
	if v, ok := rel.Props["encoder"].(string); ok {
		edge.Encoder = seqtypes.EncoderKind(v)
	}
	if v, ok := rel.Props["distance"].(float64); ok {
		edge.Distance = v
	}
	if v, ok := rel.Props["rank"].(int64); ok {
		edge.Rank = int(v)
	}
	return edge
}

func mapNodeDegree(rec *neo4j.Record) (*NodeDegree, error) {
	deg := &NodeDegree{}
	if v, ok := rec.Values[0].(string); ok {
		deg.SequenceID = v
	}
	if v, ok := rec.Values[1].(string); ok {
		deg.Name = v
	}
	if v, ok := rec.Values[2].(string); ok {
		deg.Dataset = v
	}
	if v, ok := rec.Values[3].(int64); ok {
		deg.Degree = v
	}
	if v, ok := rec.Values[4].(int64); ok {
		deg.OutDegree = v
	}
	deg.InDegree = deg.Degree - deg.OutDegree
	return deg, nil
}
