// Package reindex rebuilds the index in bulk.
//
// A Reindexer walks the current master table ordered by a date-time field
// and indexes every object again into a second set of tables, described by
// another indexer. It saves its cursor in a checkpoint.Store after each
// step, so it can be interrupted and resumed, and it can keep following new
// rows forever until the tables are switched.
//
// A Backfiller indexes objects of a class that the object store knows but
// the index does not.
package reindex
