package store

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Task types queued against stored chunks.
const (
	TaskERClaim   = "er_claim"
	TaskEmbedding = "embedding"
)

// Task statuses.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// ValidTaskType reports whether t names a known task type.
func ValidTaskType(t string) bool {
	return t == TaskERClaim || t == TaskEmbedding
}

func validTaskStatus(s string) bool {
	switch s {
	case TaskPending, TaskRunning, TaskDone, TaskFailed:
		return true
	}
	return false
}

func newTaskID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// PendingTask is a queued task joined with the chunk fields a runner needs.
type PendingTask struct {
	TaskID       string `json:"task_id"`
	ChunkID      string `json:"chunk_id"`
	Novel        string `json:"novel_name"`
	ChapterID    int    `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title"`
	Content      string `json:"content"`
}

// GenerateTasks queues one task of the given type for every non-empty
// chunk of a novel that does not have one yet. With clear set, existing
// tasks of that type are dropped first so everything is requeued.
// It returns the number of tasks created.
func (s *Store) GenerateTasks(ctx context.Context, novel, taskType string, clear bool) (created int, err error) {
	if !ValidTaskType(taskType) {
		return 0, fmt.Errorf("unknown task type %q", taskType)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	if clear {
		err = sqlitex.Execute(conn, `DELETE FROM chunk_tasks WHERE task_type = ?1 AND chunk_id IN
			(SELECT chunk_id FROM chapter_chunks WHERE novel_name = ?2)`,
			&sqlitex.ExecOptions{Args: []any{taskType, novel}})
		if err != nil {
			return 0, fmt.Errorf("clear %s tasks for %s: %w", taskType, novel, err)
		}
	}

	var chunkIDs []string
	err = sqlitex.Execute(conn, `SELECT c.chunk_id FROM chapter_chunks c
		WHERE c.novel_name = ?1 AND c.char_count > 0
		AND NOT EXISTS (SELECT 1 FROM chunk_tasks t WHERE t.chunk_id = c.chunk_id AND t.task_type = ?2)
		ORDER BY c.chapter_id`,
		&sqlitex.ExecOptions{
			Args: []any{novel, taskType},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chunkIDs = append(chunkIDs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("find chunks without %s tasks: %w", taskType, err)
	}

	ts := now()
	for _, id := range chunkIDs {
		err = sqlitex.Execute(conn, `INSERT INTO chunk_tasks
			(task_id, chunk_id, task_type, task_status, created_at, updated_at)
			VALUES (?1, ?2, ?3, ?4, ?5, ?5)`,
			&sqlitex.ExecOptions{Args: []any{newTaskID(), id, taskType, TaskPending, ts}})
		if err != nil {
			return 0, fmt.Errorf("queue %s task for chunk %s: %w", taskType, id, err)
		}
	}
	return len(chunkIDs), nil
}

// PendingTasks returns up to limit pending tasks of the given type,
// oldest chapters first. A non-positive limit returns all of them.
func (s *Store) PendingTasks(ctx context.Context, taskType string, limit int) ([]PendingTask, error) {
	if !ValidTaskType(taskType) {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	var tasks []PendingTask
	err = sqlitex.Execute(conn, `SELECT t.task_id, t.chunk_id, c.novel_name, c.chapter_id, c.chapter_title, c.content
		FROM chunk_tasks t JOIN chapter_chunks c ON c.chunk_id = t.chunk_id
		WHERE t.task_type = ?1 AND t.task_status = ?2
		ORDER BY c.novel_name, c.chapter_id LIMIT ?3`,
		&sqlitex.ExecOptions{
			Args: []any{taskType, TaskPending, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tasks = append(tasks, PendingTask{
					TaskID:       stmt.ColumnText(0),
					ChunkID:      stmt.ColumnText(1),
					Novel:        stmt.ColumnText(2),
					ChapterID:    stmt.ColumnInt(3),
					ChapterTitle: stmt.ColumnText(4),
					Content:      stmt.ColumnText(5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list pending %s tasks: %w", taskType, err)
	}
	return tasks, nil
}

// MarkTask moves a task to the given status, or returns ErrNotFound.
func (s *Store) MarkTask(ctx context.Context, taskID, status string) error {
	if !validTaskStatus(status) {
		return fmt.Errorf("unknown task status %q", status)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE chunk_tasks SET task_status = ?1, updated_at = ?2 WHERE task_id = ?3`,
		&sqlitex.ExecOptions{Args: []any{status, now(), taskID}})
	if err != nil {
		return fmt.Errorf("mark task %s %s: %w", taskID, status, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// ResetRunningTasks requeues tasks stuck in the running state, as left
// behind by an interrupted runner. It returns the number requeued.
func (s *Store) ResetRunningTasks(ctx context.Context, taskType string) (int, error) {
	if !ValidTaskType(taskType) {
		return 0, fmt.Errorf("unknown task type %q", taskType)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE chunk_tasks SET task_status = ?1, updated_at = ?2
		WHERE task_type = ?3 AND task_status = ?4`,
		&sqlitex.ExecOptions{Args: []any{TaskPending, now(), taskType, TaskRunning}})
	if err != nil {
		return 0, fmt.Errorf("reset running %s tasks: %w", taskType, err)
	}
	return conn.Changes(), nil
}

// TaskCount is one (type, status) bucket of a novel's tasks.
type TaskCount struct {
	Type   string `json:"task_type"`
	Status string `json:"task_status"`
	Count  int    `json:"count"`
}

// TaskStats breaks down a novel's tasks by type and status.
func (s *Store) TaskStats(ctx context.Context, novel string) ([]TaskCount, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var counts []TaskCount
	err = sqlitex.Execute(conn, `SELECT t.task_type, t.task_status, COUNT(*)
		FROM chunk_tasks t JOIN chapter_chunks c ON c.chunk_id = t.chunk_id
		WHERE c.novel_name = ?1
		GROUP BY t.task_type, t.task_status
		ORDER BY t.task_type, t.task_status`,
		&sqlitex.ExecOptions{
			Args: []any{novel},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts = append(counts, TaskCount{
					Type:   stmt.ColumnText(0),
					Status: stmt.ColumnText(1),
					Count:  stmt.ColumnInt(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("task stats for %s: %w", novel, err)
	}
	return counts, nil
}
