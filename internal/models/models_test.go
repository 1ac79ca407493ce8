package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() GenerationRequest {
	return GenerationRequest{
		Category:  CategoryRomantic,
		Tone:      ToneSweet,
		TimeOfDay: Evening,
	}
}

func TestGenerationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *GenerationRequest)
		wantErr bool
	}{
		{"valid", func(r *GenerationRequest) {}, false},
		{"unknown category", func(r *GenerationRequest) { r.Category = "weird" }, true},
		{"unknown tone", func(r *GenerationRequest) { r.Tone = "angry" }, true},
		{"unknown time", func(r *GenerationRequest) { r.TimeOfDay = "dawn" }, true},
		{"context too long", func(r *GenerationRequest) { r.Context = strings.Repeat("a", MaxContextLength+1) }, true},
		{"context at limit", func(r *GenerationRequest) { r.Context = strings.Repeat("é", MaxContextLength) }, false},
		{"occasion too long", func(r *GenerationRequest) { r.SpecialOccasion = strings.Repeat("a", MaxOccasionLength+1) }, true},
		{"too many hints", func(r *GenerationRequest) { r.PartnerHints = make([]string, MaxHints+1) }, true},
		{"count too large", func(r *GenerationRequest) { r.Count = MaxCount + 1 }, true},
		{"negative count", func(r *GenerationRequest) { r.Count = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMessageCountDefault(t *testing.T) {
	r := validRequest()
	assert.Equal(t, DefaultCount, r.MessageCount())
	r.Count = 1
	assert.Equal(t, 1, r.MessageCount())
}

func TestCategoryLabels(t *testing.T) {
	assert.Equal(t, "Romantic", CategoryRomantic.Label())
	assert.Equal(t, "Good Morning", CategoryGoodMorning.Label())
	for _, c := range AllCategories() {
		assert.True(t, c.Valid(), c)
	}
	_, err := ParseCategory("nope")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTimeOfDayAt(t *testing.T) {
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Night, TimeOfDayAt(day.Add(3*time.Hour)))
	assert.Equal(t, Morning, TimeOfDayAt(day.Add(8*time.Hour)))
	assert.Equal(t, Afternoon, TimeOfDayAt(day.Add(13*time.Hour)))
	assert.Equal(t, Evening, TimeOfDayAt(day.Add(19*time.Hour)))
	assert.Equal(t, Night, TimeOfDayAt(day.Add(23*time.Hour)))
}

func TestImpactOrderingAndJSON(t *testing.T) {
	assert.True(t, ImpactLow < ImpactMedium)
	assert.True(t, ImpactMedium < ImpactHigh)

	msg := GeneratedMessage{ID: "1", Impact: ImpactHigh}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"impact":"high"`)

	var back GeneratedMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ImpactHigh, back.Impact)
}

func TestAverageImpact(t *testing.T) {
	assert.Equal(t, ImpactMedium, AverageImpact(nil))
	assert.Equal(t, ImpactHigh, AverageImpact([]GeneratedMessage{{Impact: ImpactHigh}, {Impact: ImpactMedium}}))
	assert.Equal(t, ImpactLow, AverageImpact([]GeneratedMessage{{Impact: ImpactLow}, {Impact: ImpactLow}, {Impact: ImpactMedium}}))
}

func TestStatisticsObserve(t *testing.T) {
	var s StorageStatistics
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)
	s.Observe(&GeneratedMessage{ID: "a", Category: CategoryRomantic, CreatedAt: t2})
	s.Observe(&GeneratedMessage{ID: "b", Category: CategoryRomantic, CreatedAt: t1})
	s.ObserveRecords(1, 2)

	assert.Equal(t, 2, s.TotalMessages)
	assert.Equal(t, 2, s.CategoryCounts[CategoryRomantic])
	assert.Equal(t, t1, *s.Oldest)
	assert.Equal(t, t2, *s.Newest)
	assert.InDelta(t, 2.0, s.AverageMessagesPerGeneration, 0.0001)
	assert.Positive(t, s.EstimatedBytes)
}

func TestValueRoundTrip(t *testing.T) {
	in := `{"items":[1,2.5,"x",true,null],"name":"recs","nested":{"k":-3}}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(in), &v))

	assert.Equal(t, ObjectValue, v.Kind())
	items, ok := v.Field("items").AsArray()
	require.True(t, ok)
	require.Len(t, items, 5)
	i, ok := items[0].AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(1), i)
	f, ok := items[1].AsDouble()
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)
	assert.True(t, items[4].IsNull())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestValueConstructors(t *testing.T) {
	v := Object(map[string]Value{"a": Array(String("x"), Bool(false))})
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",false]}`, string(out))
	assert.True(t, v.Field("missing").IsNull())
	assert.True(t, String("s").Field("a").IsNull())
}

func TestDoubleNonFiniteIsNull(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := Double(f)
		assert.True(t, v.IsNull())
		out, err := json.Marshal(Array(v, Double(1.5)))
		require.NoError(t, err)
		assert.JSONEq(t, `[null,1.5]`, string(out))
	}
}

func TestAsIntRange(t *testing.T) {
	tests := []struct {
		f    float64
		want int64
		ok   bool
	}{
		{f: 42, want: 42, ok: true},
		{f: -(1 << 63), want: math.MinInt64, ok: true},
		{f: 1 << 63, ok: false},
		{f: 1e300, ok: false},
		{f: -1e300, ok: false},
		{f: 2.5, ok: false},
	}
	for _, tt := range tests {
		got, ok := Double(tt.f).AsInt()
		assert.Equal(t, tt.ok, ok, "%g", tt.f)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
