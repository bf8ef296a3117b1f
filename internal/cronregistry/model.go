package cronregistry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// TimeLayout matches the ISO strings the external scheduler writes.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// CronJob is one registry entry. Status, LastRun, NextRun and History belong
// to the execution engine. Fields this package does not know about are kept in
// Extra and written back unchanged.
type CronJob struct {
	ID          string
	Name        string
	Description string
	Schedule    string
	Command     string
	AgentID     string
	Enabled     bool
	CreatedAt   string
	UpdatedAt   string
	LastRun     *string
	NextRun     *string
	Status      JobStatus
	History     []json.RawMessage
	Extra       map[string]json.RawMessage
}

type jobField struct {
	key string
	get func(j *CronJob) any
	set func(j *CronJob, raw json.RawMessage) error
}

func into[T any](dst func(j *CronJob) *T) func(j *CronJob, raw json.RawMessage) error {
	return func(j *CronJob, raw json.RawMessage) error {
		return json.Unmarshal(raw, dst(j))
	}
}

var jobFields = []jobField{
	{"id", func(j *CronJob) any { return j.ID }, into(func(j *CronJob) *string { return &j.ID })},
	{"name", func(j *CronJob) any { return j.Name }, into(func(j *CronJob) *string { return &j.Name })},
	{"description", func(j *CronJob) any { return j.Description }, into(func(j *CronJob) *string { return &j.Description })},
	{"schedule", func(j *CronJob) any { return j.Schedule }, into(func(j *CronJob) *string { return &j.Schedule })},
	{"command", func(j *CronJob) any { return j.Command }, into(func(j *CronJob) *string { return &j.Command })},
	{"agentId", func(j *CronJob) any { return j.AgentID }, into(func(j *CronJob) *string { return &j.AgentID })},
	{"enabled", func(j *CronJob) any { return j.Enabled }, into(func(j *CronJob) *bool { return &j.Enabled })},
	{"createdAt", func(j *CronJob) any { return j.CreatedAt }, into(func(j *CronJob) *string { return &j.CreatedAt })},
	{"updatedAt", func(j *CronJob) any { return j.UpdatedAt }, into(func(j *CronJob) *string { return &j.UpdatedAt })},
	{"lastRun", func(j *CronJob) any { return j.LastRun }, into(func(j *CronJob) **string { return &j.LastRun })},
	{"nextRun", func(j *CronJob) any { return j.NextRun }, into(func(j *CronJob) **string { return &j.NextRun })},
	{"status", func(j *CronJob) any { return j.Status }, into(func(j *CronJob) *JobStatus { return &j.Status })},
	{"history", func(j *CronJob) any {
		if j.History == nil {
			return []json.RawMessage{}
		}
		return j.History
	}, into(func(j *CronJob) *[]json.RawMessage { return &j.History })},
}

func (j CronJob) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal job field %s: %w", key, err)
		}
		buf.Write(b)
		return nil
	}
	for _, f := range jobFields {
		if err := write(f.key, f.get(&j)); err != nil {
			return nil, err
		}
	}
	for _, k := range sortedKeys(j.Extra) {
		if err := write(k, j.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (j *CronJob) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = CronJob{}
	for _, f := range jobFields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		delete(raw, f.key)
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if err := f.set(j, v); err != nil {
			return fmt.Errorf("job field %s: %w", f.key, err)
		}
	}
	if len(raw) > 0 {
		j.Extra = raw
	}
	return nil
}

func (j *CronJob) Clone() *CronJob {
	c := *j
	c.History = append([]json.RawMessage(nil), j.History...)
	if j.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(j.Extra))
		for k, v := range j.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

type Statistics struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Errors   int `json:"errors"`
}

// Registry is the whole registry file. Entries that do not decode as jobs are
// kept verbatim in invalid so a write never drops them.
type Registry struct {
	CreatedAt  string
	UpdatedAt  string
	Jobs       map[string]*CronJob
	Statistics Statistics
	Extra      map[string]json.RawMessage

	invalid map[string]json.RawMessage
}

func NewRegistry(now time.Time) *Registry {
	ts := FormatTime(now)
	return &Registry{
		CreatedAt: ts,
		UpdatedAt: ts,
		Jobs:      map[string]*CronJob{},
	}
}

// Recompute derives the statistics from the job mapping. Undecodable entries
// count as inactive.
func (r *Registry) Recompute() {
	s := Statistics{Total: len(r.Jobs) + len(r.invalid), Inactive: len(r.invalid)}
	for _, j := range r.Jobs {
		if j.Enabled {
			s.Active++
		} else {
			s.Inactive++
		}
		if j.Status == JobError {
			s.Errors++
		}
	}
	r.Statistics = s
}

// Delete removes a job, including an undecodable entry with that ID. It
// reports whether anything was removed.
func (r *Registry) Delete(id string) bool {
	_, ok := r.Jobs[id]
	_, bad := r.invalid[id]
	delete(r.Jobs, id)
	delete(r.invalid, id)
	return ok || bad
}

// IDs returns the decodable job IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.Jobs))
	for id := range r.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Undecodable reports whether id only exists as an entry that does not decode
// as a job.
func (r *Registry) Undecodable(id string) bool {
	if _, ok := r.Jobs[id]; ok {
		return false
	}
	_, bad := r.invalid[id]
	return bad
}

func (r *Registry) InvalidIDs() []string {
	return sortedKeys(r.invalid)
}

type registryFile struct {
	CreatedAt  string                     `json:"createdAt"`
	UpdatedAt  string                     `json:"updatedAt"`
	Jobs       map[string]json.RawMessage `json:"jobs"`
	Statistics Statistics                 `json:"statistics"`
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	jobs := make(map[string]json.RawMessage, len(r.Jobs)+len(r.invalid))
	for id, raw := range r.invalid {
		jobs[id] = raw
	}
	for id, j := range r.Jobs {
		b, err := json.Marshal(j)
		if err != nil {
			return nil, err
		}
		jobs[id] = b
	}
	b, err := json.Marshal(registryFile{
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Jobs:       jobs,
		Statistics: r.Statistics,
	})
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	// Append top-level fields owned by other writers.
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range sortedKeys(r.Extra) {
		kb, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(r.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	for _, k := range []string{"createdAt", "updatedAt", "jobs", "statistics"} {
		delete(raw, k)
	}
	*r = Registry{
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
		Jobs:       make(map[string]*CronJob, len(f.Jobs)),
		Statistics: f.Statistics,
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	for id, b := range f.Jobs {
		var j CronJob
		if err := json.Unmarshal(b, &j); err != nil {
			if r.invalid == nil {
				r.invalid = map[string]json.RawMessage{}
			}
			r.invalid[id] = b
			continue
		}
		if j.ID == "" {
			j.ID = id
		}
		r.Jobs[id] = &j
	}
	return nil
}

// Encode renders the registry the way it is stored on disk.
func Encode(r *Registry) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal registry: %w", err)
	}
	return append(b, '\n'), nil
}

func Decode(data []byte) (*Registry, error) {
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal registry: %w", err)
	}
	return &r, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
