package orm

import (
	"github.com/kernelci/kcidb/internal/schema"
)

// ChainsFromIDs builds one chain per type with ids, in schema.Types order.
// parents adds every ancestor. children extends the chain down through every
// descendant type, one chain per path.
func ChainsFromIDs(ids map[*schema.Type][]string, parents, children bool) []Chain {
	var chains []Chain
	for _, t := range schema.Types {
		if len(ids[t]) == 0 {
			continue
		}
		head := Pattern{Type: t, IDs: ids[t], Parents: parents, Children: children && len(t.Children()) > 0}
		if !head.Children {
			chains = append(chains, Chain{head})
			continue
		}
		for _, tail := range descendantPaths(t) {
			chains = append(chains, append(Chain{head}, tail...))
		}
	}
	return chains
}

// descendantPaths lists the child-traversal chains below t.
func descendantPaths(t *schema.Type) []Chain {
	var paths []Chain
	for _, rel := range t.Children() {
		frag := Pattern{Type: rel.Child, Children: len(rel.Child.Children()) > 0}
		if !frag.Children {
			paths = append(paths, Chain{frag})
			continue
		}
		for _, tail := range descendantPaths(rel.Child) {
			paths = append(paths, append(Chain{frag}, tail...))
		}
	}
	return paths
}

// Help is the pattern documentation printed by --pattern-help.
const Help = `Patterns select objects and traverse the checkout -> build -> test graph.

  chain    = fragment { "#" fragment }
  fragment = TYPE [ "[" ID { "," ID } "]" | "%" ] [ "<" ] [ ">" ]

TYPE is one of: checkout, build, test.
ID is a bare word or a double-quoted string ("a,b" or "say \"hi\"").
No selector, or %, selects every object of the type.

  <   also select every ancestor of the matched objects
  >   also select the direct children of the matched objects
  #   continue with the objects of the next TYPE reached by < or >

Examples:

  checkout[redhat:123]>      the checkout and its builds
  test[T1]<                  the test, its build and its checkout
  checkout[C]>#build>        the checkout, its builds and their tests
  build%                     every build
`
