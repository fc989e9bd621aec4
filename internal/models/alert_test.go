package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertRule_Violated(t *testing.T) {
	cases := []struct {
		name     string
		operator string
		value    float64
		metric   float64
		want     bool
	}{
		{"gt above", OpGT, 40, 40.1, true},
		{"gt equal", OpGT, 40, 40, false},
		{"lt below", OpLT, 10, 9.9, true},
		{"lt equal", OpLT, 10, 10, false},
		{"gte equal", OpGTE, 40, 40, true},
		{"gte below", OpGTE, 40, 39.9, false},
		{"lte equal", OpLTE, 10, 10, true},
		{"lte above", OpLTE, 10, 10.1, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := AlertRule{Metric: "temp", Operator: c.operator, Value: c.value}
			assert.Equal(t, c.want, r.Violated(map[string]float64{"temp": c.metric}))
		})
	}
}

func TestAlertRule_MissingMetricNotViolated(t *testing.T) {
	r := AlertRule{Metric: "temp", Operator: OpGT, Value: 40}
	assert.False(t, r.Violated(map[string]float64{"humidity": 99}))
	assert.False(t, r.Violated(nil))
}

func TestAlertRule_UnknownOperatorNotViolated(t *testing.T) {
	r := AlertRule{Metric: "temp", Operator: "NE", Value: 40}
	assert.False(t, r.Violated(map[string]float64{"temp": 50}))
}
