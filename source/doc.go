// Package source resolves indexable values from host objects.
//
// The host object store is reached only through small capability
// interfaces (Object, MethodCaller, Proxy, Relation, Related). A field's
// source is a typed expression tree evaluated against those interfaces:
//
//	source.Attribute("title")                     // direct attribute
//	source.Method("summary")                      // zero-argument method
//	source.Path{Via: source.Attribute("authors"), // relation traversal
//	    Get: source.Attribute("id")}
//	source.Aggregate{...}                         // space-joined text
//	source.WeightedAggregate{...}                 // per-weight text
//	source.FirstOf{...}                           // first non-nil value
//
// Parse builds the same trees from the compact string notation used in
// configuration files ("authors.id", "summary()", "title").
package source
