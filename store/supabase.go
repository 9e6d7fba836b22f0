package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/supabase-community/supabase-go"

	"shorts-pipeline/types"
)

// Supabase stores records in two PostgREST tables keyed by id.
type Supabase struct {
	client         *supabase.Client
	jobsTable      string
	schedulesTable string
}

// NewSupabase connects with the service key.
func NewSupabase(url, serviceKey, jobsTable, schedulesTable string) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "supabase client")
	}
	return &Supabase{client: client, jobsTable: jobsTable, schedulesTable: schedulesTable}, nil
}

// SaveJob upserts job by id.
func (s *Supabase) SaveJob(_ context.Context, job *types.GenerationJob) error {
	_, _, err := s.client.From(s.jobsTable).
		Upsert(job, "id", "minimal", "").
		Execute()
	return errors.Wrapf(err, "save job %s", job.ID)
}

// DeleteJob removes the job record.
func (s *Supabase) DeleteJob(_ context.Context, id string) error {
	_, _, err := s.client.From(s.jobsTable).
		Delete("minimal", "").
		Eq("id", id).
		Execute()
	return errors.Wrapf(err, "delete job %s", id)
}

// GetJob fetches one job record.
func (s *Supabase) GetJob(_ context.Context, id string) (*types.GenerationJob, error) {
	var jobs []types.GenerationJob
	if err := s.selectInto(s.jobsTable, "id", id, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return &jobs[0], nil
}

// RecentTopics returns the owner's latest topics, newest first.
func (s *Supabase) RecentTopics(_ context.Context, ownerID string, limit int) ([]string, error) {
	q := s.client.From(s.jobsTable).
		Select("topic,created_at", "", false).
		Eq("owner_id", ownerID).
		Neq("topic", "")
	if limit > 0 {
		q = q.Limit(limit, "")
	}
	data, _, err := q.Order("created_at", nil).Execute()
	if err != nil {
		return nil, errors.Wrap(err, "query recent topics")
	}
	var rows []struct {
		Topic     string    `json:"topic"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(err, "parse recent topics")
	}
	sort.SliceStable(rows, func(i, k int) bool { return rows[i].CreatedAt.After(rows[k].CreatedAt) })
	topics := make([]string, 0, len(rows))
	for _, r := range rows {
		topics = append(topics, r.Topic)
	}
	return topics, nil
}

// SaveSchedule upserts entry by id.
func (s *Supabase) SaveSchedule(_ context.Context, entry *types.ScheduleEntry) error {
	_, _, err := s.client.From(s.schedulesTable).
		Upsert(entry, "id", "minimal", "").
		Execute()
	return errors.Wrapf(err, "save schedule %s", entry.ID)
}

// GetSchedule fetches one schedule entry.
func (s *Supabase) GetSchedule(_ context.Context, id string) (*types.ScheduleEntry, error) {
	var entries []types.ScheduleEntry
	if err := s.selectInto(s.schedulesTable, "id", id, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "schedule %s", id)
	}
	return &entries[0], nil
}

// DueSchedules returns active entries whose next run is at or before now.
func (s *Supabase) DueSchedules(_ context.Context, now time.Time) ([]*types.ScheduleEntry, error) {
	data, _, err := s.client.From(s.schedulesTable).
		Select("*", "", false).
		Eq("active", strconv.FormatBool(true)).
		Lte("next_run", now.UTC().Format(time.RFC3339)).
		Execute()
	if err != nil {
		return nil, errors.Wrap(err, "query due schedules")
	}
	var entries []types.ScheduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "parse due schedules")
	}
	out := make([]*types.ScheduleEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}

func (s *Supabase) selectInto(table, column, value string, out any) error {
	data, _, err := s.client.From(table).
		Select("*", "exact", false).
		Eq(column, value).
		Execute()
	if err != nil {
		return errors.Wrapf(err, "query %s", table)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "parse %s", table)
	}
	return nil
}
