package storage

// IMap is a thread-safe map. Connectors and server sessions use it to carry
// caller attributes (player id, auth token, ...) alongside the session.
type IMap[K comparable, V any] interface {
	Get(K) (V, bool)
	Set(K, V)
	Del(K)
	ForEach(func(K, V) bool)
	Clear()
	Size() int
	Keys() []K
	AsMap() map[K]V
}
