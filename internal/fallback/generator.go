package fallback

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/xaenox/sparkgen/internal/models"
)

const defaultName = "my love"

// Generator produces messages from the static template table. It never fails
// and never touches the network.
type Generator struct {
	now func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// WithClock overrides the timestamp source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate returns req.MessageCount() messages with distinct text. The
// category's own templates come first, then time-of-day and generic ones.
func (g *Generator) Generate(req models.GenerationRequest) []models.GeneratedMessage {
	count := req.MessageCount()
	now := g.now()

	msgs := make([]models.GeneratedMessage, 0, count)
	seen := make(map[string]bool, count)
	for _, c := range candidates(req) {
		content := render(c.tmpl, req)
		if seen[content] {
			continue
		}
		seen[content] = true
		msgs = append(msgs, models.GeneratedMessage{
			ID:        models.NewMessageID(),
			Content:   content,
			Category:  req.Category,
			Tone:      req.Tone,
			Impact:    c.impact,
			Context:   req.Snapshot(),
			CreatedAt: now,
			Origin:    models.OriginFallback,
		})
		if len(msgs) == count {
			break
		}
	}
	return msgs
}

type candidate struct {
	tmpl   string
	impact models.Impact
}

// candidates lists templates in preference order: the requested tone, the
// category's other tones, the time of day, then generic. Each pool is
// rotated by the request seed.
func candidates(req models.GenerationRequest) []candidate {
	start := seed(req)
	var out []candidate
	add := func(pool []string, impact models.Impact) {
		if len(pool) == 0 {
			return
		}
		off := int(start % uint32(len(pool)))
		for i := range pool {
			out = append(out, candidate{tmpl: pool[(off+i)%len(pool)], impact: impact})
		}
	}

	if byTone, ok := templates[req.Category]; ok {
		add(byTone[req.Tone], models.ImpactMedium)
		for _, tone := range models.AllTones() {
			if tone != req.Tone {
				add(byTone[tone], models.ImpactMedium)
			}
		}
	}
	add(timeOfDayTemplates[req.TimeOfDay], models.ImpactLow)
	add(genericTemplates, models.ImpactLow)
	return out
}

func seed(req models.GenerationRequest) uint32 {
	h := fnv.New32a()
	for _, s := range []string{string(req.Category), string(req.Tone), string(req.TimeOfDay),
		req.RecipientName, req.SpecialOccasion, req.Context} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum32()
}

func render(tmpl string, req models.GenerationRequest) string {
	name := strings.TrimSpace(req.RecipientName)
	if name == "" {
		name = defaultName
	}
	occasion := strings.TrimSpace(req.SpecialOccasion)

	var b strings.Builder
	for {
		lb := strings.IndexByte(tmpl, '[')
		if lb < 0 {
			b.WriteString(tmpl)
			break
		}
		rb := strings.IndexByte(tmpl[lb:], ']')
		if rb < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:lb])
		clause := tmpl[lb+1 : lb+rb]
		if occasion != "" || !strings.Contains(clause, "{occasion}") {
			b.WriteString(clause)
		}
		tmpl = tmpl[lb+rb+1:]
	}

	out := strings.ReplaceAll(b.String(), "{name}", name)
	out = strings.ReplaceAll(out, "{occasion}", occasion)
	if strings.HasPrefix(out, defaultName) {
		out = strings.ToUpper(out[:1]) + out[1:]
	}
	return out
}
