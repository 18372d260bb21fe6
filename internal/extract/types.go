package extract

import "strings"

// Entity categories the extraction prompts are allowed to emit.
const (
	CategoryCharacter    = "character"
	CategoryState        = "state"
	CategoryAbility      = "ability"
	CategoryItem         = "item"
	CategoryCreature     = "creature"
	CategoryOrganization = "organization"
	CategoryLocation     = "location"
)

var entityCategories = map[string]bool{
	CategoryCharacter:    true,
	CategoryState:        true,
	CategoryAbility:      true,
	CategoryItem:         true,
	CategoryCreature:     true,
	CategoryOrganization: true,
	CategoryLocation:     true,
}

// Entity is one named thing recognized in a chapter.
type Entity struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Desc     string `json:"desc"`
}

// Relation connects two extracted entities.
type Relation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Desc   string `json:"desc"`
}

// ERResult is the model's answer to an entity extraction request.
type ERResult struct {
	Entities      []Entity   `json:"entities"`
	Relationships []Relation `json:"relationships"`
}

// Claim is one factual statement about an entity.
type Claim struct {
	Category string `json:"category"`
	Subject  string `json:"subject"`
	Content  string `json:"content"`
}

// ClaimResult is the model's answer to a claim extraction request.
type ClaimResult struct {
	Claims []Claim `json:"claims"`
}

// ValidEntity checks an extracted entity. Returns true if usable.
func ValidEntity(e *Entity) bool {
	if e == nil {
		return false
	}
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" || len(e.Name) > 100 {
		return false
	}
	return entityCategories[e.Category]
}

// ValidRelation checks an extracted relation. Returns true if usable.
func ValidRelation(r *Relation) bool {
	if r == nil {
		return false
	}
	r.Source = strings.TrimSpace(r.Source)
	r.Target = strings.TrimSpace(r.Target)
	return r.Source != "" && r.Target != "" && r.Source != r.Target
}

// ValidClaim checks an extracted claim. Returns true if usable.
func ValidClaim(c *Claim) bool {
	if c == nil {
		return false
	}
	c.Subject = strings.TrimSpace(c.Subject)
	c.Content = strings.TrimSpace(c.Content)
	return c.Subject != "" && c.Content != "" && len(c.Content) <= 1000
}

// Sanitize drops invalid entities and relations in place and returns the
// number removed.
func (r *ERResult) Sanitize() int {
	dropped := 0
	entities := r.Entities[:0]
	for i := range r.Entities {
		if ValidEntity(&r.Entities[i]) {
			entities = append(entities, r.Entities[i])
		} else {
			dropped++
		}
	}
	r.Entities = entities

	relations := r.Relationships[:0]
	for i := range r.Relationships {
		if ValidRelation(&r.Relationships[i]) {
			relations = append(relations, r.Relationships[i])
		} else {
			dropped++
		}
	}
	r.Relationships = relations
	return dropped
}

// Sanitize drops invalid claims in place and returns the number removed.
func (r *ClaimResult) Sanitize() int {
	dropped := 0
	claims := r.Claims[:0]
	for i := range r.Claims {
		if ValidClaim(&r.Claims[i]) {
			claims = append(claims, r.Claims[i])
		} else {
			dropped++
		}
	}
	r.Claims = claims
	return dropped
}
