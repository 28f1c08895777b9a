package jit

// MappingKind tags how a stack slot's value relates to another location
// (spec §3 "Slot Mapping"): a plain stack temp, an alias of a local, or an
// alias of self. Aliased slots observe refinements made to the location they
// alias.
type MappingKind uint8

const (
	MapStack MappingKind = iota
	MapLocal
	MapSelf
)

// Mapping is a MappingKind plus, for MapLocal, which local it aliases.
type Mapping struct {
	Kind  MappingKind
	Local int // valid when Kind == MapLocal
}

func StackMapping() Mapping          { return Mapping{Kind: MapStack} }
func SelfMapping() Mapping           { return Mapping{Kind: MapSelf} }
func LocalMapping(i int) Mapping     { return Mapping{Kind: MapLocal, Local: i} }

func (m Mapping) IsAlias() bool { return m.Kind != MapStack }
