package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/easyops/contextcore-go/pkg/model"
)

// Neo4jGraphStore Neo4j 图存储
//
// 基于 Neo4j 的图存储实现，支持节点与有向类型边的管理。
// 边的 (source, target, type) 唯一性由 AddEdge 的存在性检查保证。
type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

// Neo4jConfig Neo4j 配置
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
}

// NewNeo4jGraphStore 创建 Neo4j 图存储
func NewNeo4jGraphStore(config Neo4jConfig) (*Neo4jGraphStore, error) {
	if config.URI == "" {
		config.URI = "bolt://localhost:7687"
	}

	auth := neo4j.NoAuth()
	if config.Username != "" && config.Password != "" {
		auth = neo4j.BasicAuth(config.Username, config.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	store := &Neo4jGraphStore{driver: driver}

	if err := store.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return store, nil
}

// createIndexes 创建索引
func (s *Neo4jGraphStore) createIndexes(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX node_id IF NOT EXISTS FOR (n:Node) ON (n.id)",
		"CREATE INDEX node_kind IF NOT EXISTS FOR (n:Node) ON (n.kind)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			// 忽略索引已存在的错误
			if !strings.Contains(err.Error(), "already exists") {
				return err
			}
		}
	}

	return nil
}

// UpsertNode 添加/更新节点
func (s *Neo4jGraphStore) UpsertNode(ctx context.Context, node *GraphNode) error {
	if node == nil || node.ID == "" {
		return ErrInvalidInput
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	props, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	now := time.Now().UnixMilli()

	query := `
	MERGE (n:Node {id: $id})
	ON CREATE SET
		n.kind = $kind,
		n.properties = $properties,
		n.created_at = $now,
		n.updated_at = $now
	ON MATCH SET
		n.kind = $kind,
		n.properties = $properties,
		n.updated_at = $now
	`

	_, err = session.Run(ctx, query, map[string]interface{}{
		"id":         node.ID,
		"kind":       string(node.Kind),
		"properties": string(props),
		"now":        now,
	})
	return err
}

// GetNode 获取节点
func (s *Neo4jGraphStore) GetNode(ctx context.Context, id string) (*GraphNode, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (n:Node {id: $id}) RETURN n`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	if result.Next(ctx) {
		record := result.Record()
		nodeVal, _ := record.Get("n")
		return s.toGraphNode(nodeVal.(neo4j.Node))
	}

	return nil, ErrNotFound
}

// DeleteNode 删除节点及其所有边
func (s *Neo4jGraphStore) DeleteNode(ctx context.Context, id string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (n:Node {id: $id}) DETACH DELETE n`,
		map[string]interface{}{"id": id})
	if err != nil {
		return err
	}

	summary, err := result.Consume(ctx)
	if err != nil {
		return err
	}
	if summary.Counters().NodesDeleted() == 0 {
		return ErrNotFound
	}

	return nil
}

// AddEdge 添加边；重复的 (source, target, type) 被拒绝
func (s *Neo4jGraphStore) AddEdge(ctx context.Context, edge *model.Relationship) error {
	if edge == nil || edge.SourceID == "" || edge.TargetID == "" || !edge.Type.Valid() {
		return ErrInvalidInput
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	relType := sanitizeRelationType(string(edge.Type))

	// 存在性检查：同 (source, target, type) 的边只允许一条
	checkQuery := fmt.Sprintf(`
	MATCH (from:Node {id: $fromId})-[r:%s]->(to:Node {id: $toId})
	RETURN r LIMIT 1
	`, relType)

	result, err := session.Run(ctx, checkQuery, map[string]interface{}{
		"fromId": edge.SourceID,
		"toId":   edge.TargetID,
	})
	if err != nil {
		return err
	}
	if result.Next(ctx) {
		return ErrDuplicateEdge
	}

	metadata, err := json.Marshal(edge.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
	MATCH (from:Node {id: $fromId}), (to:Node {id: $toId})
	CREATE (from)-[r:%s {id: $id, metadata: $metadata, created_at: $now}]->(to)
	`, relType)

	result, err = session.Run(ctx, query, map[string]interface{}{
		"id":       edge.ID,
		"fromId":   edge.SourceID,
		"toId":     edge.TargetID,
		"metadata": string(metadata),
		"now":      edge.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	summary, err := result.Consume(ctx)
	if err != nil {
		return err
	}
	if summary.Counters().RelationshipsCreated() == 0 {
		// 两端节点缺失时 MATCH 不命中
		return ErrNotFound
	}

	return nil
}

// DeleteEdge 删除边
func (s *Neo4jGraphStore) DeleteEdge(ctx context.Context, sourceID, targetID string, relType model.RelationType) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
	MATCH (from:Node {id: $fromId})-[r:%s]->(to:Node {id: $toId})
	DELETE r
	`, sanitizeRelationType(string(relType)))

	result, err := session.Run(ctx, query, map[string]interface{}{
		"fromId": sourceID,
		"toId":   targetID,
	})
	if err != nil {
		return err
	}

	summary, err := result.Consume(ctx)
	if err != nil {
		return err
	}
	if summary.Counters().RelationshipsDeleted() == 0 {
		return ErrNotFound
	}

	return nil
}

// Neighbors 按边类型和方向取邻居 ID
func (s *Neo4jGraphStore) Neighbors(ctx context.Context, id string, relType model.RelationType, dir EdgeDirection) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var pattern string
	switch dir {
	case DirectionOut:
		pattern = `(n:Node {id: $id})-[r:%s]->(other:Node)`
	case DirectionIn:
		pattern = `(n:Node {id: $id})<-[r:%s]-(other:Node)`
	default:
		return nil, ErrInvalidInput
	}

	query := fmt.Sprintf(`MATCH `+pattern+` RETURN other.id AS otherId ORDER BY otherId`,
		sanitizeRelationType(string(relType)))

	result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}

	var ids []string
	for result.Next(ctx) {
		record := result.Record()
		otherID, _ := record.Get("otherId")
		ids = append(ids, otherID.(string))
	}

	return ids, nil
}

// Edges 取节点在指定类型下的所有出边
func (s *Neo4jGraphStore) Edges(ctx context.Context, sourceID string, relType model.RelationType) ([]*model.Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
	MATCH (from:Node {id: $id})-[r:%s]->(to:Node)
	RETURN r, to.id AS toId ORDER BY toId
	`, sanitizeRelationType(string(relType)))

	result, err := session.Run(ctx, query, map[string]interface{}{"id": sourceID})
	if err != nil {
		return nil, err
	}

	var edges []*model.Relationship
	for result.Next(ctx) {
		record := result.Record()
		relVal, _ := record.Get("r")
		rel := relVal.(neo4j.Relationship)
		toID, _ := record.Get("toId")

		edge := &model.Relationship{
			ID:        getStringProp(rel.Props, "id"),
			SourceID:  sourceID,
			TargetID:  toID.(string),
			Type:      relType,
			CreatedAt: time.UnixMilli(getInt64Prop(rel.Props, "created_at")),
		}
		if metaStr := getStringProp(rel.Props, "metadata"); metaStr != "" && metaStr != "null" {
			_ = json.Unmarshal([]byte(metaStr), &edge.Metadata)
		}
		edges = append(edges, edge)
	}

	return edges, nil
}

// Close 关闭连接
func (s *Neo4jGraphStore) Close() error {
	return s.driver.Close(context.Background())
}

// toGraphNode 将 Neo4j 节点转换为 GraphNode
func (s *Neo4jGraphStore) toGraphNode(node neo4j.Node) (*GraphNode, error) {
	n := &GraphNode{
		ID:   getStringProp(node.Props, "id"),
		Kind: NodeKind(getStringProp(node.Props, "kind")),
	}

	if propsStr := getStringProp(node.Props, "properties"); propsStr != "" && propsStr != "null" {
		if err := json.Unmarshal([]byte(propsStr), &n.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}

	return n, nil
}

// getStringProp 获取字符串属性
func getStringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// getInt64Prop 获取 int64 属性
func getInt64Prop(props map[string]interface{}, key string) int64 {
	if v, ok := props[key].(int64); ok {
		return v
	}
	return 0
}

// sanitizeRelationType 清理关系类型名称
func sanitizeRelationType(relType string) string {
	// Neo4j 关系类型只能包含字母、数字和下划线
	relType = strings.ToUpper(relType)
	relType = strings.ReplaceAll(relType, " ", "_")
	relType = strings.ReplaceAll(relType, "-", "_")
	return relType
}

// Compile-time interface check
var _ GraphStore = (*Neo4jGraphStore)(nil)
