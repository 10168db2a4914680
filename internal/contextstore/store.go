// Package contextstore holds the session history that retrieval ranks and
// the orchestrator writes back to.
//
// Sessions, activities and tasks are stored as independent flat maps keyed
// by id and related only through parent_id back-references. Hierarchy is
// exposed through query functions, never through in-memory containment.
// The item log is append-only within a process lifetime; Clear is the only
// bulk reset and exists for test isolation and explicit session teardown.
//
// The store assumes a single writer. The orchestrator and its iteration
// loop run sequentially within one process, so no internal locking is
// needed; a caller adding concurrent item execution must serialize writes
// and cursor updates itself.
package contextstore

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/tags"
)

// Store owns all session, activity, task and item records plus the current
// cursor. It is the sole mutator of all four.
type Store struct {
	sessions   map[string]*Session
	activities map[string]*Activity
	tasks      map[string]*Task

	// items is the ordered append-only log. Order is insertion order and
	// doubles as recency order for retrieval tie-breaks.
	items []Item

	cursor Cursor
	logger *zap.Logger
}

// New creates an empty store. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions:   make(map[string]*Session),
		activities: make(map[string]*Activity),
		tasks:      make(map[string]*Task),
		logger:     logger,
	}
}

// CreateSession records a new session and moves the cursor to it. The
// activity and task cursors are cleared since they belonged to the previous
// session.
func (s *Store) CreateSession(request, plan string) (*Session, error) {
	if request == "" {
		return nil, ErrEmptyRequest
	}

	sess := &Session{
		ID:        newID(),
		Request:   request,
		Plan:      plan,
		CreatedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	s.cursor = Cursor{SessionID: sess.ID}

	s.logger.Debug("session created", zap.String("id", sess.ID))
	return sess, nil
}

// CreateActivity records a new activity under the current session and moves
// the activity cursor to it, clearing the task cursor.
func (s *Store) CreateActivity(mode, component, rationale string) (*Activity, error) {
	if s.cursor.SessionID == "" {
		return nil, ErrNoCurrentSession
	}
	if _, ok := s.sessions[s.cursor.SessionID]; !ok {
		return nil, &InvariantError{Detail: fmt.Sprintf("cursor references missing session %s", s.cursor.SessionID)}
	}

	act := &Activity{
		ID:        newID(),
		ParentID:  s.cursor.SessionID,
		Mode:      mode,
		Component: component,
		Rationale: rationale,
		CreatedAt: time.Now(),
	}
	s.activities[act.ID] = act
	s.cursor.ActivityID = act.ID
	s.cursor.TaskID = ""

	s.logger.Debug("activity created",
		zap.String("id", act.ID),
		zap.String("mode", mode),
		zap.String("component", component))
	return act, nil
}

// CreateTask records a new task under the current activity and moves the
// task cursor to it. Tags are normalized before storage.
func (s *Store) CreateTask(description string, taskTags []string) (*Task, error) {
	if description == "" {
		return nil, ErrEmptyDescription
	}
	if s.cursor.ActivityID == "" {
		return nil, ErrNoCurrentActivity
	}
	if _, ok := s.activities[s.cursor.ActivityID]; !ok {
		return nil, &InvariantError{Detail: fmt.Sprintf("cursor references missing activity %s", s.cursor.ActivityID)}
	}

	task := &Task{
		ID:          newID(),
		ParentID:    s.cursor.ActivityID,
		Description: description,
		Tags:        tags.NormalizeAll(taskTags),
		CreatedAt:   time.Now(),
	}
	s.tasks[task.ID] = task
	s.cursor.TaskID = task.ID

	s.logger.Debug("task created", zap.String("id", task.ID))
	return task, nil
}

// AddItem appends one fact to the log. Tags are normalized before storage.
// A non-empty parentID must reference an existing session, activity or task;
// a dangling reference is an InvariantError, not a valid state.
//
// Existing items are never mutated or removed by this call.
func (s *Store) AddItem(content string, category Category, itemTags []string, parentID string) (*Item, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if parentID != "" && !s.recordExists(parentID) {
		return nil, &InvariantError{Detail: fmt.Sprintf("item parent %s does not exist", parentID)}
	}

	item := Item{
		ID:        newID(),
		Content:   content,
		Category:  category,
		Tags:      tags.NormalizeAll(itemTags),
		ParentID:  parentID,
		CreatedAt: time.Now(),
	}
	s.items = append(s.items, item)

	s.logger.Debug("item added",
		zap.String("id", item.ID),
		zap.String("category", string(category)),
		zap.Strings("tags", item.Tags))
	return &item, nil
}

// ItemsByTags returns items sharing at least one normalized tag with the
// query, in insertion order.
func (s *Store) ItemsByTags(queryTags []string) []Item {
	normalized := tags.NormalizeAll(queryTags)
	if len(normalized) == 0 {
		return nil
	}
	query := make(map[string]struct{}, len(normalized))
	for _, t := range normalized {
		query[t] = struct{}{}
	}

	var out []Item
	for _, item := range s.items {
		for _, t := range item.Tags {
			if _, ok := query[t]; ok {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// ItemsByCategory returns items of the given category in insertion order.
func (s *Store) ItemsByCategory(category Category) []Item {
	var out []Item
	for _, item := range s.items {
		if item.Category == category {
			out = append(out, item)
		}
	}
	return out
}

// Items returns the full ordered log.
func (s *Store) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// CurrentSession returns the session the cursor points at.
func (s *Store) CurrentSession() (*Session, error) {
	if s.cursor.SessionID == "" {
		return nil, ErrNoCurrentSession
	}
	sess, ok := s.sessions[s.cursor.SessionID]
	if !ok {
		return nil, &InvariantError{Detail: fmt.Sprintf("cursor references missing session %s", s.cursor.SessionID)}
	}
	return sess, nil
}

// CurrentActivity returns the activity the cursor points at.
func (s *Store) CurrentActivity() (*Activity, error) {
	if s.cursor.ActivityID == "" {
		return nil, ErrNoCurrentActivity
	}
	act, ok := s.activities[s.cursor.ActivityID]
	if !ok {
		return nil, &InvariantError{Detail: fmt.Sprintf("cursor references missing activity %s", s.cursor.ActivityID)}
	}
	return act, nil
}

// CurrentTask returns the task the cursor points at, or nil if no task is
// current.
func (s *Store) CurrentTask() (*Task, error) {
	if s.cursor.TaskID == "" {
		return nil, nil
	}
	task, ok := s.tasks[s.cursor.TaskID]
	if !ok {
		return nil, &InvariantError{Detail: fmt.Sprintf("cursor references missing task %s", s.cursor.TaskID)}
	}
	return task, nil
}

// Cursor returns a copy of the current cursor.
func (s *Store) Cursor() Cursor {
	return s.cursor
}

// SetTaskResult records the final result on a task.
func (s *Store) SetTaskResult(taskID, result string) error {
	task, ok := s.tasks[taskID]
	if !ok {
		return &InvariantError{Detail: fmt.Sprintf("task %s does not exist", taskID)}
	}
	task.Result = result
	return nil
}

// Clear resets the store to empty. Intended for test isolation and explicit
// session teardown only.
func (s *Store) Clear() {
	s.sessions = make(map[string]*Session)
	s.activities = make(map[string]*Activity)
	s.tasks = make(map[string]*Task)
	s.items = nil
	s.cursor = Cursor{}
}

// Export copies the full store contents for checkpointing. Record slices
// are ordered by creation time so a restored store replays identically.
func (s *Store) Export() Snapshot {
	snap := Snapshot{
		Sessions:   make([]Session, 0, len(s.sessions)),
		Activities: make([]Activity, 0, len(s.activities)),
		Tasks:      make([]Task, 0, len(s.tasks)),
		Items:      make([]Item, len(s.items)),
		Cursor:     s.cursor,
	}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, *sess)
	}
	for _, act := range s.activities {
		snap.Activities = append(snap.Activities, *act)
	}
	for _, task := range s.tasks {
		snap.Tasks = append(snap.Tasks, *task)
	}
	copy(snap.Items, s.items)
	sortByCreation(snap)
	return snap
}

// Restore replaces store contents with a previously exported snapshot.
// Parent references are re-validated so a corrupted checkpoint surfaces as
// an InvariantError instead of silently producing dangling items.
func (s *Store) Restore(snap Snapshot) error {
	sessions := make(map[string]*Session, len(snap.Sessions))
	for i := range snap.Sessions {
		sess := snap.Sessions[i]
		sessions[sess.ID] = &sess
	}
	activities := make(map[string]*Activity, len(snap.Activities))
	for i := range snap.Activities {
		act := snap.Activities[i]
		if _, ok := sessions[act.ParentID]; !ok {
			return &InvariantError{Detail: fmt.Sprintf("activity %s references missing session %s", act.ID, act.ParentID)}
		}
		activities[act.ID] = &act
	}
	tasksByID := make(map[string]*Task, len(snap.Tasks))
	for i := range snap.Tasks {
		task := snap.Tasks[i]
		if _, ok := activities[task.ParentID]; !ok {
			return &InvariantError{Detail: fmt.Sprintf("task %s references missing activity %s", task.ID, task.ParentID)}
		}
		tasksByID[task.ID] = &task
	}
	for _, item := range snap.Items {
		if item.ParentID == "" {
			continue
		}
		_, inSessions := sessions[item.ParentID]
		_, inActivities := activities[item.ParentID]
		_, inTasks := tasksByID[item.ParentID]
		if !inSessions && !inActivities && !inTasks {
			return &InvariantError{Detail: fmt.Sprintf("item %s references missing parent %s", item.ID, item.ParentID)}
		}
	}

	s.sessions = sessions
	s.activities = activities
	s.tasks = tasksByID
	s.items = append([]Item(nil), snap.Items...)
	s.cursor = snap.Cursor

	s.logger.Debug("store restored",
		zap.Int("sessions", len(sessions)),
		zap.Int("items", len(s.items)))
	return nil
}

func sortByCreation(snap Snapshot) {
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].CreatedAt.Before(snap.Sessions[j].CreatedAt)
	})
	sort.Slice(snap.Activities, func(i, j int) bool {
		return snap.Activities[i].CreatedAt.Before(snap.Activities[j].CreatedAt)
	})
	sort.Slice(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].CreatedAt.Before(snap.Tasks[j].CreatedAt)
	})
}

func (s *Store) recordExists(id string) bool {
	if _, ok := s.sessions[id]; ok {
		return true
	}
	if _, ok := s.activities[id]; ok {
		return true
	}
	_, ok := s.tasks[id]
	return ok
}
