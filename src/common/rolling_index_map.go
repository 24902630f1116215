package common

// RollingIndexMap is a collection of RollingIndexes, one per string key.
// Stores use it keyed by owner identity to keep a recent window of decoded
// entries per log.
type RollingIndexMap struct {
	name    string
	size    int
	mapping map[string]*RollingIndex
}

// NewRollingIndexMap creates a new RollingIndexMap where each RollingIndex
// has the specified size.
func NewRollingIndexMap(name string, size int) *RollingIndexMap {
	return &RollingIndexMap{
		name:    name,
		size:    size,
		mapping: make(map[string]*RollingIndex),
	}
}

// GetItem returns a specific item from the RollingIndex identified by key.
func (rim *RollingIndexMap) GetItem(key string, index int) (interface{}, error) {
	items, ok := rim.mapping[key]
	if !ok {
		return nil, NewStoreErr(rim.name, KeyNotFound, key)
	}
	return items.GetItem(index)
}

// Set inserts or updates an item in the RollingIndex identified by key,
// creating the index if the key is new.
func (rim *RollingIndexMap) Set(key string, item interface{}, index int) error {
	items, ok := rim.mapping[key]
	if !ok {
		items = NewRollingIndex(rim.name+"["+key+"]", rim.size)
		rim.mapping[key] = items
	}
	return items.Set(item, index)
}
