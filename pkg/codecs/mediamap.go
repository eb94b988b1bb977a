package codecs

// MediaMap хранит значение для каждого типа медиа.
//
// Заменяет строковые map[string]T записи "по имени медиа": ключ
// проверяется на этапе компиляции, отсутствие значения для медиа
// выражается вторым результатом Get, а не nil в карте.
type MediaMap[T any] struct {
	values  [numMediaTypes]T
	present [numMediaTypes]bool
}

// Get возвращает значение для медиа и признак его наличия.
func (m *MediaMap[T]) Get(media MediaType) (T, bool) {
	return m.values[media], m.present[media]
}

// Set устанавливает значение для медиа.
func (m *MediaMap[T]) Set(media MediaType, value T) {
	m.values[media] = value
	m.present[media] = true
}

// Delete удаляет значение для медиа.
func (m *MediaMap[T]) Delete(media MediaType) {
	var zero T
	m.values[media] = zero
	m.present[media] = false
}

// Has сообщает, установлено ли значение для медиа.
func (m *MediaMap[T]) Has(media MediaType) bool {
	return m.present[media]
}
