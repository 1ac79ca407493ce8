package models

import "time"

// GenerationRecord is one row per generation attempt, used only for statistics.
type GenerationRecord struct {
	ID            string    `json:"id"`
	Category      Category  `json:"category"`
	TimeOfDay     TimeOfDay `json:"time_of_day"`
	HadContext    bool      `json:"had_context"`
	HadOccasion   bool      `json:"had_occasion"`
	MessageCount  int       `json:"message_count"`
	AverageImpact Impact    `json:"average_impact"`
	Origin        Origin    `json:"origin"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewGenerationRecord summarizes a finished generation.
func NewGenerationRecord(req GenerationRequest, msgs []GeneratedMessage, origin Origin, now time.Time) *GenerationRecord {
	return &GenerationRecord{
		ID:            NewMessageID(),
		Category:      req.Category,
		TimeOfDay:     req.TimeOfDay,
		HadContext:    req.Context != "",
		HadOccasion:   req.SpecialOccasion != "",
		MessageCount:  len(msgs),
		AverageImpact: AverageImpact(msgs),
		Origin:        origin,
		CreatedAt:     now,
	}
}

// AverageImpact rounds the mean impact of msgs to the nearest level.
func AverageImpact(msgs []GeneratedMessage) Impact {
	if len(msgs) == 0 {
		return ImpactMedium
	}
	sum := 0
	for _, m := range msgs {
		sum += int(m.Impact)
	}
	avg := (sum*2 + len(msgs)) / (len(msgs) * 2)
	switch {
	case avg <= int(ImpactLow):
		return ImpactLow
	case avg >= int(ImpactHigh):
		return ImpactHigh
	}
	return ImpactMedium
}

// StorageStatistics is derived from the store on every call and never persisted.
type StorageStatistics struct {
	TotalMessages                int              `json:"total_messages"`
	FavoriteCount                int              `json:"favorite_count"`
	CategoryCounts               map[Category]int `json:"category_counts"`
	EstimatedBytes               int64            `json:"estimated_bytes"`
	Oldest                       *time.Time       `json:"oldest,omitempty"`
	Newest                       *time.Time       `json:"newest,omitempty"`
	GenerationRecords            int              `json:"generation_records"`
	AverageMessagesPerGeneration float64          `json:"average_messages_per_generation"`
}

// Observe folds one message into the running statistics.
func (s *StorageStatistics) Observe(m *GeneratedMessage) {
	if s.CategoryCounts == nil {
		s.CategoryCounts = make(map[Category]int)
	}
	s.TotalMessages++
	s.CategoryCounts[m.Category]++
	s.EstimatedBytes += m.EstimatedSize()
	t := m.CreatedAt
	if s.Oldest == nil || t.Before(*s.Oldest) {
		s.Oldest = &t
	}
	if s.Newest == nil || t.After(*s.Newest) {
		n := t
		s.Newest = &n
	}
}

// ObserveRecords sets the generation record aggregates. produced is the sum of
// MessageCount over all records.
func (s *StorageStatistics) ObserveRecords(records, produced int) {
	s.GenerationRecords = records
	if records > 0 {
		s.AverageMessagesPerGeneration = float64(produced) / float64(records)
	}
}
