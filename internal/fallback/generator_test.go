package fallback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/sparkgen/internal/models"
)

func request(cat models.Category, tone models.Tone) models.GenerationRequest {
	return models.GenerationRequest{Category: cat, Tone: tone, TimeOfDay: models.Evening, RecipientName: "Alex"}
}

func TestGenerateAlwaysProducesMessages(t *testing.T) {
	g := NewGenerator()
	for _, cat := range append(models.AllCategories(), "unknown") {
		for _, tone := range []models.Tone{models.ToneSweet, models.ToneCasual, "weird"} {
			msgs := g.Generate(request(cat, tone))
			require.Len(t, msgs, models.DefaultCount, "%s/%s", cat, tone)
			for _, m := range msgs {
				assert.NotEmpty(t, m.Content)
				assert.NotContains(t, m.Content, "{")
				assert.NotContains(t, m.Content, "[")
				assert.Equal(t, models.OriginFallback, m.Origin)
				assert.NotEmpty(t, m.ID)
			}
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := NewGenerator()
	req := request(models.CategoryRomantic, models.ToneSweet)
	a := g.Generate(req)
	b := g.Generate(req)
	for i := range a {
		assert.Equal(t, a[i].Content, b[i].Content)
		assert.NotEqual(t, a[i].ID, b[i].ID)
	}
}

func TestGenerateSubstitutesName(t *testing.T) {
	g := NewGenerator()
	msgs := g.Generate(request(models.CategoryGoodNight, models.ToneSweet))
	for _, m := range msgs {
		assert.Contains(t, m.Content, "Alex")
	}
}

func TestGenerateUsesClock(t *testing.T) {
	at := time.Date(2026, 2, 14, 20, 0, 0, 0, time.UTC)
	g := NewGenerator().WithClock(func() time.Time { return at })
	msgs := g.Generate(request(models.CategoryRomantic, models.ToneSweet))
	assert.Equal(t, at, msgs[0].CreatedAt)
	assert.Equal(t, models.ImpactMedium, msgs[0].Impact)
}

func TestGenericTemplateForUnknownCategory(t *testing.T) {
	msgs := NewGenerator().Generate(request("mystery", models.ToneSweet))
	assert.Equal(t, models.ImpactLow, msgs[0].Impact)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		req  models.GenerationRequest
		want string
	}{
		{
			name: "occasion clause kept",
			tmpl: "Hi {name}.[ Happy {occasion}!]",
			req:  models.GenerationRequest{RecipientName: "Jo", SpecialOccasion: "birthday"},
			want: "Hi Jo. Happy birthday!",
		},
		{
			name: "occasion clause dropped",
			tmpl: "Hi {name}.[ Happy {occasion}!]",
			req:  models.GenerationRequest{RecipientName: "Jo"},
			want: "Hi Jo.",
		},
		{
			name: "default name capitalized at start",
			tmpl: "{name}, you rock.",
			req:  models.GenerationRequest{},
			want: "My love, you rock.",
		},
		{
			name: "unterminated bracket left alone",
			tmpl: "Hi [{name}",
			req:  models.GenerationRequest{RecipientName: "Jo"},
			want: "Hi [Jo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, render(tt.tmpl, tt.req))
		})
	}
}

func TestRequestedCountHonored(t *testing.T) {
	req := request(models.CategoryFunny, models.TonePlayful)
	req.Count = 5
	msgs := NewGenerator().Generate(req)
	assert.Len(t, msgs, 5)
	assert.True(t, strings.Contains(msgs[0].Content, "Alex"))
}

func TestGenerateReturnsDistinctContent(t *testing.T) {
	g := NewGenerator()
	for _, cat := range append(models.AllCategories(), "unknown") {
		for _, tone := range models.AllTones() {
			for _, tod := range []models.TimeOfDay{models.Morning, models.Afternoon, models.Evening, models.Night} {
				req := models.GenerationRequest{Category: cat, Tone: tone, TimeOfDay: tod, RecipientName: "Sam", Count: models.MaxCount}
				msgs := g.Generate(req)
				require.Len(t, msgs, models.MaxCount, "%s/%s/%s", cat, tone, tod)
				seen := map[string]bool{}
				for _, m := range msgs {
					assert.False(t, seen[m.Content], "duplicate %q for %s/%s/%s", m.Content, cat, tone, tod)
					seen[m.Content] = true
				}
			}
		}
	}
}

func TestToneMismatchPrefersCategoryTemplates(t *testing.T) {
	req := models.GenerationRequest{Category: models.CategoryApology, Tone: models.ToneSweet, TimeOfDay: models.Morning, RecipientName: "Sam"}
	msgs := NewGenerator().Generate(req)
	require.Len(t, msgs, models.DefaultCount)

	apologies := map[string]bool{}
	for _, tmpl := range templates[models.CategoryApology][models.ToneThoughtful] {
		apologies[render(tmpl, req)] = true
	}
	for _, m := range msgs[:len(apologies)] {
		assert.True(t, apologies[m.Content], "got %q", m.Content)
		assert.Equal(t, models.ImpactMedium, m.Impact)
	}
	assert.NotContains(t, msgs[0].Content, "Good morning")
}
