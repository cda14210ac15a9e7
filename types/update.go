package types

import (
	"github.com/google/uuid"
)

// Type header values of published updates.
const (
	TypeCreated     = "ConfigurationCreated"
	TypeChanged     = "ConfigurationChanged"
	TypeDeleted     = "ConfigurationDeleted"
	TypeInvalidated = "ConfigurationInvalidated"
	TypeUnspecified = "Unspecified"
)

// UpdateMessage is one of ConfigurationCreated, ConfigurationChanged,
// ConfigurationDeleted, ConfigurationInvalidated, UnknownUpdate or
// NonParseableUpdate.
type UpdateMessage interface {
	Type() string
	isUpdateMessage()
}

type ConfigurationCreated struct {
	Category Category
	ID       uuid.UUID
}

type ConfigurationChanged struct {
	Category Category
	ID       uuid.UUID
}

type ConfigurationDeleted struct {
	Category Category
	ID       uuid.UUID
}

// ConfigurationInvalidated tells every consumer to drop cached configuration
// and reload it in full.
type ConfigurationInvalidated struct{}

// UnknownUpdate carries an update whose type this version does not know.
type UnknownUpdate struct {
	TypeName string
	Data     string
}

// NonParseableUpdate carries an update of a known type whose body did not decode.
type NonParseableUpdate struct {
	TypeName string
	Data     string
	Err      error
}

func (ConfigurationCreated) Type() string     { return TypeCreated }
func (ConfigurationChanged) Type() string     { return TypeChanged }
func (ConfigurationDeleted) Type() string     { return TypeDeleted }
func (ConfigurationInvalidated) Type() string { return TypeInvalidated }
func (m UnknownUpdate) Type() string          { return m.TypeName }
func (m NonParseableUpdate) Type() string     { return m.TypeName }

func (ConfigurationCreated) isUpdateMessage()     {}
func (ConfigurationChanged) isUpdateMessage()     {}
func (ConfigurationDeleted) isUpdateMessage()     {}
func (ConfigurationInvalidated) isUpdateMessage() {}
func (UnknownUpdate) isUpdateMessage()            {}
func (NonParseableUpdate) isUpdateMessage()       {}

// EntityID returns the id an update is keyed by, if it has one.
func EntityID(m UpdateMessage) (uuid.UUID, bool) {
	switch v := m.(type) {
	case ConfigurationCreated:
		return v.ID, true
	case ConfigurationChanged:
		return v.ID, true
	case ConfigurationDeleted:
		return v.ID, true
	}
	return uuid.Nil, false
}
