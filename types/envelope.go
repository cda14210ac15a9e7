package types

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Transport header names.
const (
	HeaderType     = "type"
	HeaderTenantID = "tenantId"
	HeaderDeviceID = "deviceId"
)

var emptyBody = []byte("{}")

// Envelope is an update as it travels on the bus. A zero TenantID and a nil
// DeviceID are not sent.
type Envelope struct {
	Type     string
	TenantID uuid.UUID
	DeviceID *uuid.UUID
	Body     []byte
}

type entityBody struct {
	Category Category  `json:"category"`
	ID       uuid.UUID `json:"id"`
}

// NewEnvelope serializes m. Only the four published variants are accepted.
func NewEnvelope(m UpdateMessage, tenant uuid.UUID) (Envelope, error) {
	env := Envelope{Type: m.Type(), TenantID: tenant}
	var (
		body entityBody
		err  error
	)
	switch v := m.(type) {
	case ConfigurationCreated:
		body = entityBody{Category: v.Category, ID: v.ID}
	case ConfigurationChanged:
		body = entityBody{Category: v.Category, ID: v.ID}
	case ConfigurationDeleted:
		body = entityBody{Category: v.Category, ID: v.ID}
	case ConfigurationInvalidated:
		env.Body = emptyBody
		return env, nil
	default:
		return Envelope{}, errors.Errorf("update %q cannot be published", m.Type())
	}
	env.Body, err = json.Marshal(body)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "encode %s", m.Type())
	}
	return env, nil
}

// Headers returns the transport headers of e in a fixed order.
func (e Envelope) Headers() [][2]string {
	h := [][2]string{{HeaderType, e.Type}}
	if e.TenantID != uuid.Nil {
		h = append(h, [2]string{HeaderTenantID, e.TenantID.String()})
	}
	if e.DeviceID != nil {
		h = append(h, [2]string{HeaderDeviceID, e.DeviceID.String()})
	}
	return h
}

// EnvelopeFromHeaders rebuilds an envelope from received headers. A missing type
// becomes TypeUnspecified, an absent or invalid tenant the zero id and an
// invalid device id is dropped.
func EnvelopeFromHeaders(get func(name string) (string, bool), body []byte) Envelope {
	env := Envelope{Type: TypeUnspecified, Body: body}
	if v, ok := get(HeaderType); ok {
		env.Type = v
	}
	if v, ok := get(HeaderTenantID); ok {
		if id, err := uuid.Parse(v); err == nil {
			env.TenantID = id
		}
	}
	if v, ok := get(HeaderDeviceID); ok {
		if id, err := uuid.Parse(v); err == nil {
			env.DeviceID = &id
		}
	}
	return env
}

// Message decodes the body according to the type header.
func (e Envelope) Message() UpdateMessage {
	data := string(e.Body)
	decode := func() (entityBody, error) {
		var b entityBody
		err := json.Unmarshal(e.Body, &b)
		return b, err
	}
	switch e.Type {
	case TypeCreated:
		b, err := decode()
		if err != nil {
			return NonParseableUpdate{TypeName: e.Type, Data: data, Err: err}
		}
		return ConfigurationCreated{Category: b.Category, ID: b.ID}
	case TypeChanged:
		b, err := decode()
		if err != nil {
			return NonParseableUpdate{TypeName: e.Type, Data: data, Err: err}
		}
		return ConfigurationChanged{Category: b.Category, ID: b.ID}
	case TypeDeleted:
		b, err := decode()
		if err != nil {
			return NonParseableUpdate{TypeName: e.Type, Data: data, Err: err}
		}
		return ConfigurationDeleted{Category: b.Category, ID: b.ID}
	case TypeInvalidated:
		if len(e.Body) > 0 {
			var v map[string]any
			if err := json.Unmarshal(e.Body, &v); err != nil {
				return NonParseableUpdate{TypeName: e.Type, Data: data, Err: err}
			}
		}
		return ConfigurationInvalidated{}
	}
	return UnknownUpdate{TypeName: e.Type, Data: data}
}
