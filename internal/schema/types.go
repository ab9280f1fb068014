package schema

// Relation is a foreign key from a child type to its parent type.
type Relation struct {
	// Field is the child's field holding the parent's primary key.
	Field string
	// Parent is the referenced type.
	Parent *Type
}

// Type describes one kind of report object.
type Type struct {
	// Name is the singular name used in patterns ("build").
	Name string
	// Collection is the plural name used in documents and storage ("builds").
	Collection string
	// PrimaryKey is the field holding the object's identity.
	PrimaryKey string
	// Parents lists the foreign keys of this type.
	Parents []Relation
}

// ChildRelation is a foreign key seen from the parent side.
type ChildRelation struct {
	Child *Type
	Field string
}

// Children returns the relations pointing at t, in Types order.
func (t *Type) Children() []ChildRelation {
	var out []ChildRelation
	for _, c := range Types {
		for _, r := range c.Parents {
			if r.Parent == t {
				out = append(out, ChildRelation{Child: c, Field: r.Field})
			}
		}
	}
	return out
}

// String returns the type name.
func (t *Type) String() string {
	return t.Name
}

// The object types. Parents always precede children in Types, so iterating
// Types visits the DAG top-down.
var (
	Checkout = &Type{Name: "checkout", Collection: "checkouts", PrimaryKey: "id"}
	Build    = &Type{
		Name: "build", Collection: "builds", PrimaryKey: "id",
		Parents: []Relation{{Field: "checkout_id", Parent: Checkout}},
	}
	Test = &Type{
		Name: "test", Collection: "tests", PrimaryKey: "id",
		Parents: []Relation{{Field: "build_id", Parent: Build}},
	}

	Types = []*Type{Checkout, Build, Test}
)

// LookupType finds a type by singular or collection name.
func LookupType(name string) (*Type, bool) {
	for _, t := range Types {
		if t.Name == name || t.Collection == name {
			return t, true
		}
	}
	return nil, false
}
