// Package orm turns compact object patterns into deduplicated object graphs
// fetched from a Source.
//
// PATTERN GRAMMAR:
//
//	chain    = fragment { "#" fragment }
//	fragment = type [ "[" idlist "]" | "%" ] [ "<" ] [ ">" ]
//	idlist   = id { "," id }
//	id       = bare | quoted
//
// A bare id is any run of characters other than whitespace and the
// punctuation , [ ] " # < > %. A quoted id is enclosed in double quotes and
// may escape \" and \\. Whitespace between tokens is ignored. A fragment
// with no selector, or with %, matches every object of its type.
//
// The traversal markers belong to the fragment being traversed from:
//
//	<  adds every ancestor of the fragment's objects (transitively)
//	>  adds the direct children of the fragment's objects, of every child type
//
// A "#" continuation must follow a traversal marker. The next fragment
// selects the objects of its type among those the traversal reached; an id
// list on a continuation narrows that set further.
//
// Examples:
//
//	checkout[C]>            C and its builds
//	test[T1]<               T1, its build and that build's checkout
//	checkout[C]>#build>     C, its builds and their tests
//	build%                  every build
//
// RESOLUTION:
//
// Each chain is resolved independently and the results are unioned into one
// Graph keyed by (type, id). Within one Resolve call every object is fetched
// at most once and every hop issues one Source.Select per type, with all the
// ids of that hop batched together. Any Source error aborts the whole
// resolution and is returned unchanged.
package orm
