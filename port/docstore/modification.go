package docstore

type ModOp string

const (
	ModSet      ModOp = "$set"
	ModUnset    ModOp = "$unset"
	ModInc      ModOp = "$inc"
	ModAddToSet ModOp = "$addToSet"
	ModPush     ModOp = "$push"
	ModPullAll  ModOp = "$pullAll"
)

// Mod is a single field modification.
// For the list operators ($addToSet, $push, $pullAll) Value holds the list of elements.
type Mod struct {
	Op    ModOp
	Field string
	Value any
}

// Modification is a list of field modifications applied together, atomically, to a document.
type Modification []Mod

// Normalize validates the modification and normalises its values.
func (m Modification) Normalize() (Modification, error) {
	if len(m) == 0 {
		return nil, ErrInvalidModification.F("empty modification")
	}
	out := make(Modification, 0, len(m))
	for _, mod := range m {
		if mod.Field == "" {
			return nil, ErrInvalidModification.F("%s without field name", mod.Op)
		}
		if mod.Field == IDKey {
			return nil, ErrInvalidModification.F("%s on the document identifier", mod.Op)
		}
		v, err := Normalize(mod.Value)
		if err != nil {
			return nil, ErrInvalidModification.F("%s %s: %s", mod.Op, mod.Field, err)
		}
		switch mod.Op {
		case ModSet, ModUnset:
		case ModInc:
			if _, ok := toFloat(v); !ok {
				return nil, ErrInvalidModification.F("%s %s expects a number, got %T", mod.Op, mod.Field, mod.Value)
			}
		case ModAddToSet, ModPush, ModPullAll:
			if _, ok := v.([]any); !ok {
				return nil, ErrInvalidModification.F("%s %s expects a list of elements, got %T", mod.Op, mod.Field, mod.Value)
			}
		default:
			return nil, ErrInvalidModification.F("unknown modification operator: %q", mod.Op)
		}
		mod.Value = v
		out = append(out, mod)
	}
	return out, nil
}

// Apply returns a modified copy of the document. The original document is left untouched.
// Either every modification is applied or an error is returned.
// The modification is expected to be normalised.
func (m Modification) Apply(doc Document) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	for _, mod := range m {
		if err := mod.apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (mod Mod) apply(doc Document) error {
	cur, present := doc.Lookup(mod.Field)
	switch mod.Op {
	case ModSet:
		return setPath(doc, mod.Field, cloneValue(mod.Value))
	case ModUnset:
		unsetPath(doc, mod.Field)
		return nil
	case ModInc:
		if !present || cur == nil {
			return setPath(doc, mod.Field, mod.Value)
		}
		sum, ok := addNumbers(cur, mod.Value)
		if !ok {
			return ErrInvalidModification.F("cannot increment non-numeric field %q (%T)", mod.Field, cur)
		}
		return setPath(doc, mod.Field, sum)
	case ModAddToSet, ModPush, ModPullAll:
		var list []any
		if present && cur != nil {
			l, ok := cur.([]any)
			if !ok {
				return ErrInvalidModification.F("%s on non-list field %q (%T)", mod.Op, mod.Field, cur)
			}
			list = append(list, l...)
		}
		elems := mod.Value.([]any)
		switch mod.Op {
		case ModPush:
			list = append(list, cloneValue(elems).([]any)...)
		case ModAddToSet:
			for _, e := range elems {
				if !containsEqual(list, e) {
					list = append(list, cloneValue(e))
				}
			}
		case ModPullAll:
			kept := list[:0]
			for _, e := range list {
				if !containsEqual(elems, e) {
					kept = append(kept, e)
				}
			}
			list = kept
		}
		if list == nil {
			list = []any{}
		}
		return setPath(doc, mod.Field, list)
	default:
		return ErrInvalidModification.F("unknown modification operator: %q", mod.Op)
	}
}

func addNumbers(a, b any) (any, bool) {
	ai, aIsInt := a.(int64)
	bi, bIsInt := b.(int64)
	if aIsInt && bIsInt {
		return ai + bi, true
	}
	af, ok := toFloat(a)
	if !ok {
		return nil, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return nil, false
	}
	return af + bf, true
}

func containsEqual(list []any, v any) bool {
	for _, e := range list {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
