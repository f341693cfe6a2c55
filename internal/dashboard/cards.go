package dashboard

import (
	"fmt"

	"github.com/bivalvia/sensor-relay/internal/model"
)

// Card tags, one per sensor field.
const (
	FieldTemperatura = "temperatura"
	FieldPH          = "ph"
	FieldTurbidez    = "turbidez"
	FieldHumedad     = "humedad"
	FieldSalinidad   = "salinidad"
)

// Board is the set of UI card elements, addressed by field tag.
type Board interface {
	SetCard(field, text string)
}

// Flusher is implemented by boards that render once per reading.
type Flusher interface {
	Flush()
}

// StatusIndicator shows whether the live connection is up.
type StatusIndicator interface {
	SetConnected(connected bool)
}

// ChartFunc receives every reading after the cards are updated.
type ChartFunc func(model.Reading)

type cardField struct {
	tag    string
	value  func(model.Reading) *float64
	format string
}

var cardFields = []cardField{
	{FieldTemperatura, func(r model.Reading) *float64 { return r.Temperatura }, "%.1f°C"},
	{FieldPH, func(r model.Reading) *float64 { return r.PH }, "%.2f"},
	{FieldTurbidez, func(r model.Reading) *float64 { return r.Turbidez }, "%.1f NTU"},
	{FieldHumedad, func(r model.Reading) *float64 { return r.Humedad }, "%.1f%%"},
	{FieldSalinidad, func(r model.Reading) *float64 { return r.Salinidad }, "%.1f PSU"},
}

// Fields lists the card tags in display order.
func Fields() []string {
	tags := make([]string, len(cardFields))
	for i, f := range cardFields {
		tags[i] = f.tag
	}
	return tags
}

// UpdateCards writes every present field of r to its card. Absent fields
// leave their card untouched.
func UpdateCards(b Board, r model.Reading) {
	if b == nil {
		return
	}
	for _, f := range cardFields {
		v := f.value(r)
		if v == nil {
			continue
		}
		b.SetCard(f.tag, fmt.Sprintf(f.format, *v))
	}
}
