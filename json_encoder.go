package streamstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// NewJSONEncoder constructs a json encoder aware of the provided event
// types
func NewJSONEncoder(evts ...any) *JSONEncoder {
	enc := JSONEncoder{
		types: make(map[string]reflect.Type),
	}

	for _, evt := range evts {
		t := reflect.TypeOf(evt)
		enc.types[t.Name()] = t
	}

	return &enc
}

// JSONEncoder maps typed application events to and from the store's opaque
// EventData payloads. The concrete type name doubles as the event type tag.
type JSONEncoder struct {
	types map[string]reflect.Type
}

// Encode marshals an event value into EventData ready for Append
func (e *JSONEncoder) Encode(evt any) (EventData, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return EventData{}, err
	}

	return EventData{
		Type: reflect.TypeOf(evt).Name(),
		Data: data,
	}, nil
}

// Decode unmarshals a recorded event back into its registered Go type.
// An unregistered type tag is an error, never a zero value.
func (e *JSONEncoder) Decode(evt RecordedEvent) (any, error) {
	t, ok := e.types[evt.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unregistered event type %q", ErrMalformedRecord, evt.Type)
	}

	v := reflect.New(t)

	if err := json.Unmarshal(evt.Data, v.Interface()); err != nil {
		return nil, err
	}

	return v.Elem().Interface(), nil
}
