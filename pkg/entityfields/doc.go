// Package entityfields renders the fields of referenced entities merged
// directly into the output of the entity holding the reference field.
//
// A Formatter resolves the target entity type from the field storage
// settings, loads every referenced entity through a StorageResolver, keeps
// the ones the current viewer may see, renders each with the configured
// view mode (falling back to "default"), optionally drops the entity label
// element and orders the remaining elements by weight. Cache metadata of
// every considered entity and of every access check is merged into the
// returned Output.
//
// Storage, display configuration, entity type schema, access control and
// rendering are collaborators supplied through interfaces. Implementations
// are provided under subpackages (memory and Postgres repositories, an S3
// display configuration store, a permission based access checker and a
// display driven renderer).
package entityfields
