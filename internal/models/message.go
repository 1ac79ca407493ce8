package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid generation request")

const (
	MaxContextLength   = 500
	MaxOccasionLength  = 100
	MaxRecipientLength = 60
	MaxHints           = 10
	MaxHintLength      = 60
	MaxCount           = 5
	DefaultCount       = 3
)

// GenerationRequest describes one user action asking for messages.
// Treat it as a value: the orchestrator never mutates it.
type GenerationRequest struct {
	Category        Category  `json:"category"`
	Tone            Tone      `json:"tone"`
	TimeOfDay       TimeOfDay `json:"time_of_day"`
	Context         string    `json:"context,omitempty"`
	SpecialOccasion string    `json:"special_occasion,omitempty"`
	RecipientName   string    `json:"recipient_name,omitempty"`
	PartnerHints    []string  `json:"partner_hints,omitempty"`
	Count           int       `json:"count,omitempty"`
}

func (r GenerationRequest) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Category)
	}
	if !r.Tone.Valid() {
		return fmt.Errorf("%w: unknown tone %q", ErrInvalidRequest, r.Tone)
	}
	if !r.TimeOfDay.Valid() {
		return fmt.Errorf("%w: unknown time of day %q", ErrInvalidRequest, r.TimeOfDay)
	}
	if err := checkLength("context", r.Context, MaxContextLength); err != nil {
		return err
	}
	if err := checkLength("special occasion", r.SpecialOccasion, MaxOccasionLength); err != nil {
		return err
	}
	if err := checkLength("recipient name", r.RecipientName, MaxRecipientLength); err != nil {
		return err
	}
	if len(r.PartnerHints) > MaxHints {
		return fmt.Errorf("%w: at most %d partner hints", ErrInvalidRequest, MaxHints)
	}
	for _, h := range r.PartnerHints {
		if err := checkLength("partner hint", h, MaxHintLength); err != nil {
			return err
		}
	}
	if r.Count < 0 || r.Count > MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, MaxCount)
	}
	return nil
}

// MessageCount is the number of messages the request asks for.
func (r GenerationRequest) MessageCount() int {
	if r.Count == 0 {
		return DefaultCount
	}
	return r.Count
}

// Snapshot captures the request context stored alongside each message.
func (r GenerationRequest) Snapshot() ContextSnapshot {
	return ContextSnapshot{
		TimeOfDay:       r.TimeOfDay,
		Context:         r.Context,
		SpecialOccasion: r.SpecialOccasion,
		RecipientName:   r.RecipientName,
	}
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidRequest, field, max)
	}
	return nil
}

type ContextSnapshot struct {
	TimeOfDay       TimeOfDay `json:"time_of_day"`
	Context         string    `json:"context,omitempty"`
	SpecialOccasion string    `json:"special_occasion,omitempty"`
	RecipientName   string    `json:"recipient_name,omitempty"`
}

// GeneratedMessage is one generated text. Ids are assigned once and never reused.
type GeneratedMessage struct {
	ID        string          `json:"id"`
	Content   string          `json:"content"`
	Category  Category        `json:"category"`
	Tone      Tone            `json:"tone"`
	Impact    Impact          `json:"impact"`
	Context   ContextSnapshot `json:"context"`
	CreatedAt time.Time       `json:"created_at"`
	Origin    Origin          `json:"origin"`
}

func NewMessageID() string {
	return uuid.NewString()
}

func (m *GeneratedMessage) IsFallback() bool {
	return m.Origin == OriginFallback
}

// EstimatedSize approximates the persisted footprint of the message in bytes.
func (m *GeneratedMessage) EstimatedSize() int64 {
	return int64(len(m.ID) + len(m.Content) + len(m.Category) + len(m.Tone) +
		len(m.Context.Context) + len(m.Context.SpecialOccasion) + len(m.Context.RecipientName) + 64)
}
