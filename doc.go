// Package tsearch is a secondary full-text and attribute search index kept
// in PostgreSQL next to a primary object store.
//
// Objects are denormalized into class-partitioned tables that inherit from
// one master table. Queries are boolean predicate trees over typed fields,
// ordered by fields or by full-text relevance, answered either by a
// guaranteed full scan or by an adaptive scan that tries a small window
// first.
//
// # Quick Start
//
//	registry, _ := field.NewRegistry(
//	    field.NewClass("classname"),
//	    field.NewInt("id"),
//	    field.NewDateTime("modified_at"),
//	    field.NewFullText("fulltext", field.WithPrimary(),
//	        field.WithSource(source.ParseAll("title", "body"))),
//	)
//	types, _ := typemap.New(tree, typemap.Rule{Class: "Article", Table: "search_article"})
//
//	engine, _ := tsearch.New(db, loader, registry, types,
//	    tsearch.WithMasterTable("search_index"),
//	    tsearch.WithDefaultOrder("-modified_at"))
//
//	_ = engine.Index(ctx, article)
//
//	results, _ := engine.ShortQuery(ctx,
//	    query.And(query.Q("classname", "Article"), query.Q("fulltext__containswords", "go")),
//	    []string{"-modified_at"}, 20)
//	for obj, err := range results.Objects(ctx) {
//	    ...
//	}
//
// # Long Queries
//
// LongQuery registers its result in a bounded cache under an opaque id.
// Passing the id back returns the cached rows unchanged; once the entry is
// evicted the query is recomputed under the same id.
//
// # Configuration
//
// The config package loads every tunable from a TOML file and Open builds
// an engine from it.
package tsearch
