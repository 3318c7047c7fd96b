// Package odb defines the value types, error codes, options and storage collaborator
// contracts shared by the object database engine. The engine itself lives in subpackages:
// persistent (object lifecycle state), cache (identity map), common (modified tracker and
// transaction coordinator) and btree (persistent B+Tree index). Storage backends such as
// inmemory, redis, cassandra and aws_s3 implement the StorageSession contract.
//
// Objects are identified by an OID which packs a class index and a per class sequence.
// Identifiers are assigned lazily, the first time an object becomes reachable from
// persistent state, and are never reused.
package odb

// Transaction model
//
// A transaction is bound to a context.Context returned by Coordinator.Begin. Every engine
// operation that reads or writes persistent state takes that context, and the coordinator
// rejects contexts bound to another transaction (WrongOwner) or to none at all when one is
// required (ClosedState). There is no ambient "current transaction" lookup.
