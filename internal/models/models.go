package models

import (
	"fmt"
	"time"
)

// Category is the kind of message a user asks for.
type Category string

const (
	CategoryRomantic      Category = "romantic"
	CategoryAppreciation  Category = "appreciation"
	CategoryApology       Category = "apology"
	CategoryEncouragement Category = "encouragement"
	CategoryGoodMorning   Category = "goodMorning"
	CategoryGoodNight     Category = "goodNight"
	CategoryAnniversary   Category = "anniversary"
	CategoryBirthday      Category = "birthday"
	CategoryMissingYou    Category = "missingYou"
	CategoryFunny         Category = "funny"
	CategorySupport       Category = "support"
	CategoryGeneral       Category = "general"
)

var categoryLabels = map[Category]string{
	CategoryRomantic:      "Romantic",
	CategoryAppreciation:  "Appreciation",
	CategoryApology:       "Apology",
	CategoryEncouragement: "Encouragement",
	CategoryGoodMorning:   "Good Morning",
	CategoryGoodNight:     "Good Night",
	CategoryAnniversary:   "Anniversary",
	CategoryBirthday:      "Birthday",
	CategoryMissingYou:    "Missing You",
	CategoryFunny:         "Funny",
	CategorySupport:       "Support",
	CategoryGeneral:       "General",
}

// AllCategories returns the known categories in display order.
func AllCategories() []Category {
	return []Category{
		CategoryRomantic, CategoryAppreciation, CategoryApology, CategoryEncouragement,
		CategoryGoodMorning, CategoryGoodNight, CategoryAnniversary, CategoryBirthday,
		CategoryMissingYou, CategoryFunny, CategorySupport, CategoryGeneral,
	}
}

func (c Category) Valid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label is the display label used by search and the UI.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, s)
	}
	return c, nil
}

type Tone string

const (
	ToneSweet      Tone = "sweet"
	TonePlayful    Tone = "playful"
	TonePassionate Tone = "passionate"
	ToneThoughtful Tone = "thoughtful"
	ToneCasual     Tone = "casual"
	TonePoetic     Tone = "poetic"
)

var toneLabels = map[Tone]string{
	ToneSweet:      "Sweet",
	TonePlayful:    "Playful",
	TonePassionate: "Passionate",
	ToneThoughtful: "Thoughtful",
	ToneCasual:     "Casual",
	TonePoetic:     "Poetic",
}

func AllTones() []Tone {
	return []Tone{ToneSweet, TonePlayful, TonePassionate, ToneThoughtful, ToneCasual, TonePoetic}
}

func (t Tone) Valid() bool {
	_, ok := toneLabels[t]
	return ok
}

func (t Tone) Label() string {
	if l, ok := toneLabels[t]; ok {
		return l
	}
	return string(t)
}

func ParseTone(s string) (Tone, error) {
	t := Tone(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown tone %q", ErrInvalidRequest, s)
	}
	return t, nil
}

type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

func (t TimeOfDay) Valid() bool {
	switch t {
	case Morning, Afternoon, Evening, Night:
		return true
	}
	return false
}

// TimeOfDayAt buckets a wall-clock time.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 22:
		return Evening
	default:
		return Night
	}
}

// Impact is the estimated emotional impact of a message. Ordered low < medium < high.
type Impact int

const (
	ImpactLow Impact = iota + 1
	ImpactMedium
	ImpactHigh
)

func (i Impact) Label() string {
	switch i {
	case ImpactLow:
		return "low"
	case ImpactMedium:
		return "medium"
	case ImpactHigh:
		return "high"
	}
	return "unknown"
}

func ParseImpact(s string) Impact {
	switch s {
	case "low":
		return ImpactLow
	case "high":
		return ImpactHigh
	default:
		return ImpactMedium
	}
}

func (i Impact) MarshalText() ([]byte, error) {
	return []byte(i.Label()), nil
}

func (i *Impact) UnmarshalText(b []byte) error {
	*i = ParseImpact(string(b))
	return nil
}

// Origin tells whether a message came from the remote service or the local templates.
type Origin string

const (
	OriginRemote   Origin = "remote"
	OriginFallback Origin = "fallback"
)
