// Package state defines the persistence boundary for fragment records: a
// Store[T] contract that loads and saves one snapshot per record, an
// in-memory implementation, and a Repository that drives the record
// lifecycle around a save.
//
// Responsibilities:
//   - Store[T] only loads/saves a single snapshot for a single Ref.
//   - Repository pushes loaded snapshots into a fragments.Store and, on save,
//     runs WillCommit, Snapshot, Store.Save and then AdapterDidCommit or
//     AdapterDidFail on the record.
//   - The core fragments package stays persistence-agnostic; transport and
//     scheduling of saves live behind Store implementations.
//
// Data flow:
//
//	Store.Load -> fragments.Store.Push -> *fragments.Record
//	*fragments.Record -> WillCommit -> Snapshot -> Store.Save -> AdapterDidCommit
//
// Deterministic keys:
//
//	Ref.Identifier() returns "model/id", the key MemoryStore uses.
package state
