package schema

import "alma.local/ifuzz/callspec"

// harvest collects every named struct and enum shape across all schemas:
// the declared types first, then inline bodies met in method signatures.
// The first definition of a name wins.
func harvest(ifaces []*Interface) map[string]TypeSpec {
	out := make(map[string]TypeSpec)
	var visit func(t TypeSpec)
	visit = func(t TypeSpec) {
		switch t.Kind {
		case callspec.KindStruct:
			if t.Type != "" && len(t.Fields) > 0 {
				if _, ok := out[t.Type]; !ok {
					out[t.Type] = t
				}
			}
			for _, f := range t.Fields {
				visit(f)
			}
		case callspec.KindEnum:
			if t.Type != "" && t.Enum != nil {
				if _, ok := out[t.Type]; !ok {
					out[t.Type] = t
				}
			}
		case callspec.KindVector:
			if t.Elem != nil {
				visit(*t.Elem)
			}
		}
	}
	for _, iface := range ifaces {
		for _, t := range iface.Types {
			visit(t)
		}
	}
	for _, iface := range ifaces {
		for _, m := range iface.Methods {
			for _, a := range m.Args {
				visit(a)
			}
			for _, r := range m.Returns {
				visit(r)
			}
		}
	}
	return out
}
