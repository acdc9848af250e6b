package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fairyhunter13/ark-vote/internal/domain"
)

// seedPresetTopics loads the preset topics file and upserts each entry,
// keyed by topic id, so redeploys converge on the file's contents.
func seedPresetTopics(ctx domain.Context, repo domain.TopicRepository, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=seedPresetTopics read: %w", err)
	}
	var topics []domain.Topic
	if err := json.Unmarshal(raw, &topics); err != nil {
		return fmt.Errorf("op=seedPresetTopics parse: %w", err)
	}
	for _, t := range topics {
		if t.ID == "" {
			return fmt.Errorf("op=seedPresetTopics: topic %q has no id", t.Name)
		}
		if err := repo.Upsert(ctx, t); err != nil {
			return fmt.Errorf("op=seedPresetTopics upsert %s: %w", t.ID, err)
		}
		slog.Info("preset topic seeded", slog.String("topic_id", t.ID), slog.String("name", t.Name))
	}
	return nil
}
