package models

// EntitySnapshot is a point-in-time copy of a CRM entity's fields, as handed
// over by the CRUD subsystem. Nested objects (customFields and the like) are
// addressed by dot-path after flattening.
type EntitySnapshot map[string]any

// Flatten converts the snapshot into a single-level map keyed by dot-paths,
// e.g. {"customFields":{"plan":"pro"}} becomes {"customFields.plan":"pro"}.
// Slices are kept as values, not expanded.
func (s EntitySnapshot) Flatten() map[string]any {
	flat := make(map[string]any, len(s))
	flatten("", map[string]any(s), flat)

	return flat
}

func flatten(prefix string, value map[string]any, out map[string]any) {
	for key, val := range value {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if nested, ok := val.(map[string]any); ok {
			flatten(path, nested, out)

			continue
		}

		out[path] = val
	}
}

// MergeFlat overlays other onto a flattened copy of the snapshot. Used to
// evaluate trigger filters against an event payload merged with a fresh
// entity snapshot; payload fields win on conflict.
func (s EntitySnapshot) MergeFlat(other map[string]any) map[string]any {
	merged := s.Flatten()
	for key, val := range other {
		merged[key] = val
	}

	return merged
}
