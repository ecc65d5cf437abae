// Package progress содержит доменную модель прогресса ученика.
//
// Пакет определяет:
//
//   - Snapshot - снимок прогресса одной области (scope): пройденные модули, XP, серия дней
//   - ScopeID - идентификатор области: ID пользователя или "anonymous"
//   - Accumulator - начисление XP за карточки с гарантией "не больше одного раза на карточку"
//   - NextStreak - чистая функция пересчёта серии активных дней
//   - Интерфейсы хранилищ: KVStore, SnapshotCache, RemoteGateway
//
// # Версионирование
//
// Каждое изменение снимка увеличивает Version и обновляет UpdatedAt.
// Пара (Version, UpdatedAt) сравнивается лексикографически, и более новый снимок
// целиком заменяет более старый (last-writer-wins, без объединения множеств).
//
// # Анонимная область
//
// Область "anonymous" существует только локально и никогда не синхронизируется:
//
//	scope := progress.ScopeFor("")          // progress.AnonymousScope
//	scope.IsLocalOnly()                     // true
//	scope.CacheKey()                        // "progress:anonymous"
package progress
