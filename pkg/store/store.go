// Package store provides storage backends for the optimization engine.
//
// This package defines the narrow interfaces the engine needs from its
// external collaborators: an item store (contexts, content items and the
// context-item join rows; SQLite in production) and a graph store (nodes
// and typed directed edges; Neo4j in production). In-memory implementations
// back both for tests and embedded use.
package store

import (
	"context"

	"github.com/easyops/contextcore-go/pkg/model"
)

// NodeKind 图节点类别
type NodeKind string

const (
	// NodeKindContext 上下文节点
	NodeKindContext NodeKind = "context"
	// NodeKindContent 内容节点
	NodeKindContent NodeKind = "content"
)

// GraphNode 图节点
type GraphNode struct {
	// ID 唯一标识
	ID string `json:"id"`
	// Kind 节点类别
	Kind NodeKind `json:"kind"`
	// Properties 节点属性
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// EdgeDirection 边遍历方向
type EdgeDirection string

const (
	// DirectionOut 出边（id 为起点）
	DirectionOut EdgeDirection = "out"
	// DirectionIn 入边（id 为终点）
	DirectionIn EdgeDirection = "in"
)

// GraphStore 图存储接口
//
// 引擎只依赖这组窄操作：节点 upsert、带类型的有向边维护、
// 按边类型取邻居。不变量：不存在两条 (source, target, type)
// 相同的边，AddEdge 对重复边返回 ErrDuplicateEdge。
type GraphStore interface {
	// UpsertNode 添加/更新节点
	UpsertNode(ctx context.Context, node *GraphNode) error

	// GetNode 获取节点
	GetNode(ctx context.Context, id string) (*GraphNode, error)

	// DeleteNode 删除节点及其所有边
	DeleteNode(ctx context.Context, id string) error

	// AddEdge 添加边；(source, target, type) 已存在时返回 ErrDuplicateEdge
	AddEdge(ctx context.Context, edge *model.Relationship) error

	// DeleteEdge 删除边
	DeleteEdge(ctx context.Context, sourceID, targetID string, relType model.RelationType) error

	// Neighbors 按边类型和方向取邻居 ID（按 ID 升序，保证确定性）
	Neighbors(ctx context.Context, id string, relType model.RelationType, dir EdgeDirection) ([]string, error)

	// Edges 取节点在指定类型下的所有出边
	Edges(ctx context.Context, sourceID string, relType model.RelationType) ([]*model.Relationship, error)

	// Close 关闭连接
	Close() error
}

// CloneBatch 一次克隆要原子落库的全部产物
//
// 要么整体可见，要么完全不可见；部分克隆是正确性缺陷。
type CloneBatch struct {
	// Contexts 新建的上下文（含递归克隆的子上下文）
	Contexts []*model.Context
	// Items 复制出的上下文条目
	Items []*model.ContextItem
}

// ItemStore 条目存储接口
//
// 持久化上下文、内容条目与上下文条目（联接行）。
type ItemStore interface {
	// PutContext 存储上下文
	PutContext(ctx context.Context, c *model.Context) error

	// GetContext 获取上下文
	GetContext(ctx context.Context, id string) (*model.Context, error)

	// ListContexts 列出项目下的全部上下文（按 ID 升序）
	ListContexts(ctx context.Context, projectID string) ([]*model.Context, error)

	// DeleteContext 删除上下文
	DeleteContext(ctx context.Context, id string) error

	// PutContentItem 存储内容条目
	PutContentItem(ctx context.Context, item *model.ContentItem) error

	// GetContentItem 获取内容条目
	GetContentItem(ctx context.Context, id string) (*model.ContentItem, error)

	// PutContextItem 存储上下文条目
	PutContextItem(ctx context.Context, item *model.ContextItem) error

	// GetContextItem 获取上下文条目
	GetContextItem(ctx context.Context, contextID, contentID string) (*model.ContextItem, error)

	// ListContextItems 列出上下文的全部条目（Position 升序，ContentID 升序）
	ListContextItems(ctx context.Context, contextID string) ([]*model.ContextItem, error)

	// DeleteContextItem 硬删除上下文条目
	DeleteContextItem(ctx context.Context, contextID, contentID string) error

	// ApplyClone 原子落库一次克隆的全部产物
	ApplyClone(ctx context.Context, batch *CloneBatch) error

	// Close 关闭连接
	Close() error
}

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeNeo4j Neo4j 存储
	StoreTypeNeo4j StoreType = "neo4j"
)

// Config 存储配置
type Config struct {
	// ItemType 条目存储类型
	ItemType StoreType `json:"item_type"`
	// GraphType 图存储类型
	GraphType StoreType `json:"graph_type"`

	// SQLite 配置
	SQLitePath string `json:"sqlite_path,omitempty"`

	// Neo4j 配置
	Neo4jURI      string `json:"neo4j_uri,omitempty"`
	Neo4jUsername string `json:"neo4j_username,omitempty"`
	Neo4jPassword string `json:"neo4j_password,omitempty"`
}

// DefaultConfig 返回默认配置（内存存储）
func DefaultConfig() *Config {
	return &Config{
		ItemType:  StoreTypeMemory,
		GraphType: StoreTypeMemory,
	}
}
