package models

import "time"

// GlobalOwner marks a flavour visible to every user.
const GlobalOwner = "global"

// Flavour is a named vocabulary mapping canonical field names to
// domain-specific ones. Built-in flavours are immutable; user flavours are
// persisted in the document store and unique per (name, owner).
type Flavour struct {
	Name      string            `bson:"name" json:"flavour_name"`
	Owner     string            `bson:"owner" json:"owner"`
	Mapping   map[string]string `bson:"mapping" json:"mapping"`
	CreatedAt time.Time         `bson:"created_at" json:"created_at"`
}

// IsGlobal reports whether the flavour is visible to every user.
func (f *Flavour) IsGlobal() bool {
	return f.Owner == GlobalOwner
}

// TranslateOutField maps a canonical field name into the flavour's
// vocabulary. Unmapped fields pass through under their canonical name.
func (f *Flavour) TranslateOutField(canonical string) string {
	if mapped, ok := f.Mapping[canonical]; ok {
		return mapped
	}
	return canonical
}

// Reverse returns the inverse mapping (flavour-specific name -> canonical).
// Flavour mappings are injective, so the inverse is well defined.
func (f *Flavour) Reverse() map[string]string {
	out := make(map[string]string, len(f.Mapping))
	for canonical, specific := range f.Mapping {
		out[specific] = canonical
	}
	return out
}

// FlavourRequest is the payload for flavour create/update calls.
type FlavourRequest struct {
	FlavourName string            `json:"flavour_name,omitempty"`
	Mapping     map[string]string `json:"mapping" validate:"required"`
	Global      bool              `json:"global,omitempty"`
}
