// Package registry holds the set of trackables the caller has registered and
// their most recent per-frame detection state.
package registry

import (
	"errors"
	"fmt"

	"markertracker/detect"
	"markertracker/pose"
)

// Type is the trackable variety.
type Type int

const (
	// TypeTemplate is a single pictorial marker matched by correlation.
	TypeTemplate Type = iota
	// TypeMatrix is a single matrix (barcode) marker.
	TypeMatrix
	// TypeMulti is a composite of members tracked as one rigid body.
	TypeMulti
)

var typeNames = map[Type]string{
	TypeTemplate: "single-pictorial",
	TypeMatrix:   "single-matrix",
	TypeMulti:    "multi",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseType is the inverse of String.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.New("unknown trackable type: " + s)
}

// Member is one component of a multi-marker configuration.
type Member struct {
	// exactly one of Template / barcode is set
	Template  *detect.Template
	BarcodeID uint64
	IsBarcode bool

	Width  float64
	Offset pose.Transform
}

// Trackable is one registered marker or composite. Visibility and Pose are
// rewritten every detection cycle; everything else is fixed at registration.
type Trackable struct {
	ID    int
	Type  Type
	Width float64

	Template  *detect.Template
	BarcodeID uint64
	Members   []Member

	Visible    bool
	Pose       pose.Transform
	Confidence float64
}

// Registry assigns monotonically increasing ids, never reused even after
// removal. Not safe for concurrent use; the engine serializes access.
type Registry struct {
	nextID int
	items  map[int]*Trackable
	order  []int
}

func New() *Registry {
	return &Registry{items: map[int]*Trackable{}}
}

func (r *Registry) add(t *Trackable) *Trackable {
	t.ID = r.nextID
	r.nextID++
	r.items[t.ID] = t
	r.order = append(r.order, t.ID)
	return t
}

// RegisterTemplate adds a pictorial trackable.
func (r *Registry) RegisterTemplate(tmpl *detect.Template, width float64) (*Trackable, error) {
	if tmpl == nil {
		return nil, errors.New("nil template")
	}
	if width <= 0 {
		return nil, fmt.Errorf("trackable width %g must be positive", width)
	}
	return r.add(&Trackable{Type: TypeTemplate, Width: width, Template: tmpl}), nil
}

// RegisterBarcode adds a matrix trackable. The id range is validated against
// the code type active at registration time.
func (r *Registry) RegisterBarcode(barcodeID uint64, width float64, code detect.MatrixCodeType) (*Trackable, error) {
	if width <= 0 {
		return nil, fmt.Errorf("trackable width %g must be positive", width)
	}
	if barcodeID >= code.Capacity() {
		return nil, fmt.Errorf("barcode id %d out of range for %s (max %d)", barcodeID, code, code.Capacity()-1)
	}
	return r.add(&Trackable{Type: TypeMatrix, Width: width, BarcodeID: barcodeID}), nil
}

// RegisterMulti adds a composite trackable from a parsed configuration.
// Member barcode ids are validated against the code type active at
// registration time, same as single matrix trackables.
func (r *Registry) RegisterMulti(members []Member, code detect.MatrixCodeType) (*Trackable, error) {
	if len(members) == 0 {
		return nil, errors.New("multi-marker configuration has no members")
	}
	for i, m := range members {
		if m.IsBarcode && m.BarcodeID >= code.Capacity() {
			return nil, fmt.Errorf("member %d: barcode id %d out of range for %s (max %d)",
				i, m.BarcodeID, code, code.Capacity()-1)
		}
	}
	return r.add(&Trackable{Type: TypeMulti, Members: members}), nil
}

// Get returns the trackable for id. Unknown ids are not an error.
func (r *Registry) Get(id int) (*Trackable, bool) {
	t, ok := r.items[id]
	return t, ok
}

// Remove deletes a trackable, permanently invalidating its id.
func (r *Registry) Remove(id int) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// All iterates trackables in registration order.
func (r *Registry) All() []*Trackable {
	out := make([]*Trackable, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.items) }

// TemplateOwner resolves a flattened template index back to the trackable it
// belongs to. Member is -1 for single pictorial trackables.
type TemplateOwner struct {
	Trackable *Trackable
	Member    int
}

// Templates collects every registered pictorial template, including
// multi-marker members, in registration order, paired with each template's
// owner. The template indices returned by the detector refer to these slices.
func (r *Registry) Templates() ([]*detect.Template, []TemplateOwner) {
	var out []*detect.Template
	var owners []TemplateOwner
	for _, t := range r.All() {
		if t.Template != nil {
			out = append(out, t.Template)
			owners = append(owners, TemplateOwner{Trackable: t, Member: -1})
		}
		for i := range t.Members {
			if t.Members[i].Template != nil {
				out = append(out, t.Members[i].Template)
				owners = append(owners, TemplateOwner{Trackable: t, Member: i})
			}
		}
	}
	return out, owners
}

// ContentKinds reports whether any pictorial / matrix definitions are
// registered, the input to detection-mode derivation.
func (r *Registry) ContentKinds() (haveTemplates, haveMatrix bool) {
	for _, t := range r.items {
		switch t.Type {
		case TypeTemplate:
			haveTemplates = true
		case TypeMatrix:
			haveMatrix = true
		case TypeMulti:
			for _, m := range t.Members {
				if m.IsBarcode {
					haveMatrix = true
				} else {
					haveTemplates = true
				}
			}
		}
	}
	return haveTemplates, haveMatrix
}

// ResetVisibility marks every trackable not visible, the state a cycle
// starts from.
func (r *Registry) ResetVisibility() {
	for _, t := range r.items {
		t.Visible = false
		t.Confidence = 0
	}
}
