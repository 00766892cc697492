package domain

import "sort"

// Merge combines this domain with another one. Set-like fields (entities,
// actions, forms) are unioned and sorted, keyed fields (intents, slots,
// responses) are merged keeping this domain's entry unless override is set,
// and single-valued config comes from this domain unless override is set or
// this domain never configured it. Merging is associative, and merging an
// already-merged domain again is a no-op.
func (d *Domain) Merge(other *Domain, override bool) (*Domain, error) {
	if other == nil {
		return d, nil
	}

	merged := NewDefinition()

	merged.Entities = unionSorted(d.def.Entities, other.def.Entities)
	merged.Actions = unionSorted(d.def.Actions, other.def.Actions)
	merged.Forms = unionSorted(d.def.Forms, other.def.Forms)

	// Forms double as actions in fragment files; drop them from the plain
	// action list so they only appear once in the action space.
	merged.Actions = subtract(merged.Actions, merged.Forms)

	merged.Intents = mergeMaps(d.def.Intents, other.def.Intents, override)
	merged.Templates = mergeMaps(d.def.Templates, other.def.Templates, override)

	slots := make(map[string]Slot, len(d.def.Slots)+len(other.def.Slots))
	for _, s := range other.def.Slots {
		slots[s.Name()] = s
	}
	for _, s := range d.def.Slots {
		if _, ok := slots[s.Name()]; !ok || !override {
			slots[s.Name()] = s
		}
	}
	for _, name := range sortedKeys(slots) {
		merged.Slots = append(merged.Slots, slots[name])
	}

	if override {
		merged.StoreEntitiesAsSlots = other.def.StoreEntitiesAsSlots
	} else {
		merged.StoreEntitiesAsSlots = d.def.StoreEntitiesAsSlots
	}

	// Session config has a single winner: this domain when it configured
	// one, the other domain otherwise.
	if override || !d.def.SessionConfigured {
		merged.Session = other.def.Session
		merged.SessionConfigured = other.def.SessionConfigured
	} else {
		merged.Session = d.def.Session
		merged.SessionConfigured = true
	}

	return New(merged, d.log)
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func subtract(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, s := range b {
		drop[s] = struct{}{}
	}
	out := a[:0]
	for _, s := range a {
		if _, ok := drop[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func mergeMaps[V any](ours, theirs map[string]V, override bool) map[string]V {
	merged := make(map[string]V, len(ours)+len(theirs))
	for k, v := range ours {
		merged[k] = v
	}
	for k, v := range theirs {
		if _, exists := merged[k]; !exists || override {
			merged[k] = v
		}
	}
	return merged
}
