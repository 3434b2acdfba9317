package model

import (
	"time"

	"github.com/google/uuid"
)

// RelationType 图边类型
type RelationType string

const (
	// RelationParentOf 父子上下文关系（source 为父）
	RelationParentOf RelationType = "PARENT_OF"
	// RelationHasContext 内容归属上下文关系
	RelationHasContext RelationType = "HAS_CONTEXT"
	// RelationSimilarTo 相似内容关系（逻辑对称，存储为两条有向边）
	RelationSimilarTo RelationType = "SIMILAR_TO"
	// RelationDerivedFrom 派生内容关系
	RelationDerivedFrom RelationType = "DERIVED_FROM"
	// RelationReferences 引用关系
	RelationReferences RelationType = "REFERENCES"
)

// Valid 返回边类型是否受支持
func (t RelationType) Valid() bool {
	switch t {
	case RelationParentOf, RelationHasContext, RelationSimilarTo,
		RelationDerivedFrom, RelationReferences:
		return true
	default:
		return false
	}
}

// Symmetric 返回边类型是否逻辑对称
func (t RelationType) Symmetric() bool {
	return t == RelationSimilarTo
}

// Relationship 图边
//
// 有向边，(SourceID, TargetID, Type) 唯一。
// 对称关系按两条有向边存储以便统一遍历。
type Relationship struct {
	// ID 唯一标识
	ID string `json:"id"`
	// SourceID 起点节点 ID
	SourceID string `json:"source_id"`
	// TargetID 终点节点 ID
	TargetID string `json:"target_id"`
	// Type 边类型
	Type RelationType `json:"type"`
	// Metadata 边的附加元数据
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`
}

// NewRelationship 创建新的图边
func NewRelationship(sourceID, targetID string, relType RelationType) *Relationship {
	return &Relationship{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      relType,
		CreatedAt: time.Now(),
	}
}

// Reverse 返回方向相反的新边（用于对称关系的第二条存储边）
func (r *Relationship) Reverse() *Relationship {
	return &Relationship{
		ID:        uuid.New().String(),
		SourceID:  r.TargetID,
		TargetID:  r.SourceID,
		Type:      r.Type,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}
