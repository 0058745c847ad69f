// Package occupancy decides, per unit and date, whether the unit is
// occupied and which system that answer comes from.
package occupancy

import "staysync/internal/model"

// Source is the authority a unit's occupancy is read from. It is a closed
// set: LocalSource, ICalSource, APISource and UnknownSource are its only
// implementations, and every switch over it handles all four.
type Source interface {
	isSource()
}

// LocalSource reads occupancy from local bookings.
type LocalSource struct{}

// ICalSource reads occupancy from the unit's imported feed at query time.
type ICalSource struct {
	Mapping model.Mapping
}

// APISource reads occupancy from EXTERNAL snapshot rows written at sync time.
type APISource struct {
	Mapping model.Mapping
}

// UnknownSource is an EXTERNAL mapping that cannot be read; it never falls
// back to local data.
type UnknownSource struct {
	Mapping model.Mapping
	Reason  string
}

func (LocalSource) isSource()   {}
func (ICalSource) isSource()    {}
func (APISource) isSource()     {}
func (UnknownSource) isSource() {}

// SourceFor maps a unit's active mapping (nil when it has none) to its source.
func SourceFor(m *model.Mapping) Source {
	if m == nil || m.SourceOfTruth != model.TruthExternal {
		return LocalSource{}
	}
	if err := m.Validate(); err != nil {
		return UnknownSource{Mapping: *m, Reason: err.Error()}
	}
	switch m.ConnectionType {
	case model.ConnectionICal:
		return ICalSource{Mapping: *m}
	case model.ConnectionAPI:
		return APISource{Mapping: *m}
	default:
		return UnknownSource{Mapping: *m, Reason: "unknown connection type"}
	}
}
