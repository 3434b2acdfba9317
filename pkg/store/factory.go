package store

// NewItemStore 根据配置创建条目存储
func NewItemStore(config *Config) (ItemStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.ItemType {
	case StoreTypeSQLite:
		return NewSQLiteItemStore(config.SQLitePath)
	case StoreTypeMemory:
		fallthrough
	default:
		return NewMemoryItemStore(), nil
	}
}

// NewGraphStore 根据配置创建图存储
func NewGraphStore(config *Config) (GraphStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.GraphType {
	case StoreTypeNeo4j:
		return NewNeo4jGraphStore(Neo4jConfig{
			URI:      config.Neo4jURI,
			Username: config.Neo4jUsername,
			Password: config.Neo4jPassword,
		})
	case StoreTypeMemory:
		fallthrough
	default:
		return NewMemoryGraphStore(), nil
	}
}
