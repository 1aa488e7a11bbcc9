// Package activity partitions fetched pipelines by the actor that triggered them.
package activity

import (
	"errors"
	"fmt"
	"time"

	"Buildwatch/internal/models"
)

var (
	ErrMissingActor     = errors.New("pipeline has no triggering actor")
	ErrMissingTimestamp = errors.New("pipeline has no creation time")
)

// Index is a per-actor view of one fetch. Both mappings share keys and preserve the
// fetch order of each actor's pipelines.
type Index struct {
	pipelines map[string][]string
	created   map[string][]time.Time
	owner     map[string]string
	actors    []string
	total     int
	earliest  time.Time
}

// Build indexes pipelines in a single pass. Any record without an actor or creation time
// fails the whole build; no partial index is returned.
func Build(records []models.Pipeline) (*Index, error) {
	idx := &Index{
		pipelines: make(map[string][]string),
		created:   make(map[string][]time.Time),
		owner:     make(map[string]string, len(records)),
	}

	for i, rec := range records {
		if rec.ActorLogin == "" {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.ID, ErrMissingActor)
		}
		if rec.CreatedAt.IsZero() {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.ID, ErrMissingTimestamp)
		}

		if _, seen := idx.pipelines[rec.ActorLogin]; !seen {
			idx.actors = append(idx.actors, rec.ActorLogin)
		}
		idx.pipelines[rec.ActorLogin] = append(idx.pipelines[rec.ActorLogin], rec.ID)
		idx.created[rec.ActorLogin] = append(idx.created[rec.ActorLogin], rec.CreatedAt)
		idx.owner[rec.ID] = rec.ActorLogin

		if idx.earliest.IsZero() || rec.CreatedAt.Before(idx.earliest) {
			idx.earliest = rec.CreatedAt
		}
		idx.total++
	}

	return idx, nil
}

// Actors returns actors in order of first appearance in the fetch
func (idx *Index) Actors() []string {
	return append([]string(nil), idx.actors...)
}

// Pipelines returns the actor's pipeline ids, nil if the actor is unknown
func (idx *Index) Pipelines(actor string) []string {
	return idx.pipelines[actor]
}

// Created returns the actor -> creation times mapping
func (idx *Index) Created() map[string][]time.Time {
	return idx.created
}

// PipelineActor returns the pipeline id -> owning actor mapping
func (idx *Index) PipelineActor() map[string]string {
	return idx.owner
}

// Len is the number of indexed records
func (idx *Index) Len() int {
	return idx.total
}

// Earliest is the oldest creation time across the whole fetch, zero when empty
func (idx *Index) Earliest() time.Time {
	return idx.earliest
}
