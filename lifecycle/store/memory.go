// Package store provides an in-memory implementation of the engine's
// storage interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements lifecycle.TxStore, forecast.Source and the ingestion
// methods used by the HTTP API. Records are copied on the way in and out, so
// callers never share pointers with the store.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

type data struct {
	cycles        map[settlement.CycleID]settlement.Cycle
	meetings      map[settlement.MeetingID]settlement.Meeting
	instructors   map[settlement.InstructorID]settlement.Instructor
	registrations map[settlement.RegistrationID]settlement.Registration
	expenses      map[settlement.ExpenseID]settlement.CycleExpense
}

func newData() *data {
	return &data{
		cycles:        make(map[settlement.CycleID]settlement.Cycle),
		meetings:      make(map[settlement.MeetingID]settlement.Meeting),
		instructors:   make(map[settlement.InstructorID]settlement.Instructor),
		registrations: make(map[settlement.RegistrationID]settlement.Registration),
		expenses:      make(map[settlement.ExpenseID]settlement.CycleExpense),
	}
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

// =============================================================================
// LIFECYCLE STORE
// =============================================================================

func (m *Memory) GetMeeting(_ context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getMeeting(id)
}

func (m *Memory) GetCycle(_ context.Context, id settlement.CycleID) (*settlement.Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getCycle(id)
}

func (m *Memory) GetInstructor(_ context.Context, id settlement.InstructorID) (*settlement.Instructor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getInstructor(id)
}

func (m *Memory) ListRegistrations(_ context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listRegistrations(cycleID), nil
}

func (m *Memory) InsertMeeting(_ context.Context, mt settlement.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.insertMeeting(mt)
}

func (m *Memory) UpdateMeeting(_ context.Context, mt settlement.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateMeeting(mt)
}

// LockProgress outside WithTx only reads; the write lock of WithTx is what
// serializes counter updates.
func (m *Memory) LockProgress(_ context.Context, cycleID settlement.CycleID) (settlement.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.progress(cycleID)
}

func (m *Memory) AddProgress(_ context.Context, cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.addProgress(cycleID, completedDelta, remainingDelta)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store stays write-locked for the whole of fn.
func (m *Memory) WithTx(_ context.Context, fn func(lifecycle.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(&txView{d: m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// =============================================================================
// QUERIES (forecast.Source, API listings)
// =============================================================================

func (m *Memory) ListMeetings(_ context.Context, f settlement.MeetingFilter) ([]settlement.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Meeting
	for _, mt := range m.d.meetings {
		if f.Matches(mt) {
			out = append(out, cloneMeeting(mt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *Memory) ListCycles(_ context.Context) ([]settlement.Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.Cycle, 0, len(m.d.cycles))
	for _, c := range m.d.cycles {
		out = append(out, cloneCycle(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListExpenses(_ context.Context, f settlement.ExpenseFilter) ([]settlement.CycleExpense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.CycleExpense
	for _, e := range m.d.expenses {
		if f.Matches(e) {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IncurredOn.Equal(out[j].IncurredOn) {
			return out[i].IncurredOn.Before(out[j].IncurredOn)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// INGESTION
// =============================================================================

// SaveCycle inserts a cycle or updates its definition. The progress
// counters of an existing cycle are kept; only the Reconciler moves them.
func (m *Memory) SaveCycle(_ context.Context, c settlement.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.d.cycles[c.ID]; ok {
		c.CompletedMeetings = old.CompletedMeetings
		c.RemainingMeetings = old.RemainingMeetings
		c.CreatedAt = old.CreatedAt
	}
	m.d.cycles[c.ID] = cloneCycle(c)
	return nil
}

func (m *Memory) SaveInstructor(_ context.Context, in settlement.Instructor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.instructors[in.ID] = in
	return nil
}

func (m *Memory) SaveRegistration(_ context.Context, r settlement.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.registrations[r.ID] = r
	return nil
}

func (m *Memory) SaveExpense(_ context.Context, e settlement.CycleExpense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.expenses[e.ID] = cloneExpense(e)
	return nil
}

// =============================================================================
// UNLOCKED ACCESS
// =============================================================================

func (d *data) getMeeting(id settlement.MeetingID) (*settlement.Meeting, error) {
	mt, ok := d.meetings[id]
	if !ok || mt.IsDeleted() {
		return nil, lifecycle.NewNotFound("meeting", string(id))
	}
	out := cloneMeeting(mt)
	return &out, nil
}

func (d *data) getCycle(id settlement.CycleID) (*settlement.Cycle, error) {
	c, ok := d.cycles[id]
	if !ok {
		return nil, lifecycle.NewNotFound("cycle", string(id))
	}
	out := cloneCycle(c)
	return &out, nil
}

func (d *data) getInstructor(id settlement.InstructorID) (*settlement.Instructor, error) {
	in, ok := d.instructors[id]
	if !ok {
		return nil, lifecycle.NewNotFound("instructor", string(id))
	}
	return &in, nil
}

func (d *data) listRegistrations(cycleID settlement.CycleID) []settlement.Registration {
	var out []settlement.Registration
	for _, r := range d.registrations {
		if r.CycleID == cycleID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *data) insertMeeting(mt settlement.Meeting) error {
	if _, exists := d.meetings[mt.ID]; exists {
		return fmt.Errorf("meeting %s already exists", mt.ID)
	}
	if _, ok := d.cycles[mt.CycleID]; !ok {
		return lifecycle.NewNotFound("cycle", string(mt.CycleID))
	}
	d.meetings[mt.ID] = cloneMeeting(mt)
	return nil
}

func (d *data) updateMeeting(mt settlement.Meeting) error {
	if _, exists := d.meetings[mt.ID]; !exists {
		return lifecycle.NewNotFound("meeting", string(mt.ID))
	}
	d.meetings[mt.ID] = cloneMeeting(mt)
	return nil
}

func (d *data) progress(cycleID settlement.CycleID) (settlement.Progress, error) {
	c, ok := d.cycles[cycleID]
	if !ok {
		return settlement.Progress{}, lifecycle.NewNotFound("cycle", string(cycleID))
	}
	return c.Progress(), nil
}

func (d *data) addProgress(cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	c, ok := d.cycles[cycleID]
	if !ok {
		return lifecycle.NewNotFound("cycle", string(cycleID))
	}
	c.CompletedMeetings += completedDelta
	c.RemainingMeetings += remainingDelta
	d.cycles[cycleID] = c
	return nil
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.cycles {
		out.cycles[k] = cloneCycle(v)
	}
	for k, v := range d.meetings {
		out.meetings[k] = cloneMeeting(v)
	}
	for k, v := range d.instructors {
		out.instructors[k] = v
	}
	for k, v := range d.registrations {
		out.registrations[k] = v
	}
	for k, v := range d.expenses {
		out.expenses[k] = cloneExpense(v)
	}
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView runs under the write lock taken by WithTx.
type txView struct {
	d *data
}

func (tv *txView) GetMeeting(_ context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	return tv.d.getMeeting(id)
}

func (tv *txView) GetCycle(_ context.Context, id settlement.CycleID) (*settlement.Cycle, error) {
	return tv.d.getCycle(id)
}

func (tv *txView) GetInstructor(_ context.Context, id settlement.InstructorID) (*settlement.Instructor, error) {
	return tv.d.getInstructor(id)
}

func (tv *txView) ListRegistrations(_ context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error) {
	return tv.d.listRegistrations(cycleID), nil
}

func (tv *txView) InsertMeeting(_ context.Context, mt settlement.Meeting) error {
	return tv.d.insertMeeting(mt)
}

func (tv *txView) UpdateMeeting(_ context.Context, mt settlement.Meeting) error {
	return tv.d.updateMeeting(mt)
}

func (tv *txView) LockProgress(_ context.Context, cycleID settlement.CycleID) (settlement.Progress, error) {
	return tv.d.progress(cycleID)
}

func (tv *txView) AddProgress(_ context.Context, cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	return tv.d.addProgress(cycleID, completedDelta, remainingDelta)
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneMeeting(m settlement.Meeting) settlement.Meeting {
	if m.RescheduledToID != nil {
		id := *m.RescheduledToID
		m.RescheduledToID = &id
	}
	if m.RescheduledFromID != nil {
		id := *m.RescheduledFromID
		m.RescheduledFromID = &id
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		m.DeletedAt = &t
	}
	if m.Request != nil {
		r := *m.Request
		if r.NewDate != nil {
			d := *r.NewDate
			r.NewDate = &d
		}
		m.Request = &r
	}
	return m
}

func cloneCycle(c settlement.Cycle) settlement.Cycle {
	if c.StudentCount != nil {
		n := *c.StudentCount
		c.StudentCount = &n
	}
	return c
}

func cloneExpense(e settlement.CycleExpense) settlement.CycleExpense {
	if e.MeetingID != nil {
		id := *e.MeetingID
		e.MeetingID = &id
	}
	return e
}
