package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loom/internal/logging"
)

// TraceRun is one recorded execution (a test run, a script invocation).
type TraceRun struct {
	RunID     string
	StartedAt string
	EndedAt   string
	Command   string
	ExitCode  *int
	Status    string
}

// TraceCall is one function call recorded within a TraceRun.
type TraceCall struct {
	CallID             string
	RunID              string
	FunctionName       string
	FilePath           string
	LineNumber         int
	CalledAt           string
	ReturnedAt         string
	DurationMs         *float64
	ArgsJSON           string
	KwargsJSON         string
	ReturnValueJSON    string
	Args               any
	Kwargs             any
	ReturnValue         any
	ExceptionType      string
	ExceptionMessage   string
	ExceptionTraceback string
	ParentCallID       string
	Depth              int
}

// RecordCallInput is the payload for RecordCall.
type RecordCallInput struct {
	RunID              string
	FunctionName       string
	FilePath           string
	LineNumber         int
	CalledAt           string
	ReturnedAt         string
	DurationMs         *float64
	Args               any // serialized if non-nil
	Kwargs             any // serialized if non-nil
	ReturnValue        any // serialized if non-nil
	ExceptionType      string
	ExceptionMessage   string
	ExceptionTraceback string
	ParentCallID       string
	Depth              int
}

// StartTraceRun begins a new trace run and returns its id.
func (s *Store) StartTraceRun(command string) (string, error) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO trace_runs (run_id, started_at, command, status) VALUES (?, ?, ?, ?)",
		runID, startedAt, nullIfEmpty(command), "running",
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	logging.TraceDebug("started trace run %s", runID)
	return runID, nil
}

// EndTraceRun closes a trace run. Returns false if the run wasn't found.
func (s *Store) EndTraceRun(runID string, status string, exitCode *int) (bool, error) {
	if status == "" {
		status = "completed"
	}
	endedAt := time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE trace_runs SET ended_at = ?, status = ?, exit_code = ? WHERE run_id = ?",
		endedAt, status, exitCodeArg(exitCode), runID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordCall stores one function call within a trace run. Args, Kwargs,
// and ReturnValue are serialized with safeSerialize only when non-nil -
// an explicit nil input is stored as SQL NULL, distinct from a
// serialized representation of a language-level null/None return value.
func (s *Store) RecordCall(in RecordCallInput) (string, error) {
	callID := uuid.NewString()
	calledAt := in.CalledAt
	if calledAt == "" {
		calledAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	var argsJSON, kwargsJSON, returnJSON any
	if in.Args != nil {
		argsJSON = safeSerialize(in.Args)
	}
	if in.Kwargs != nil {
		kwargsJSON = safeSerialize(in.Kwargs)
	}
	if in.ReturnValue != nil {
		returnJSON = safeSerialize(in.ReturnValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO trace_calls (
			call_id, run_id, function_name, file_path, line_number,
			called_at, returned_at, duration_ms, args_json, kwargs_json,
			return_value_json, exception_type, exception_message,
			exception_traceback, parent_call_id, depth
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		callID, in.RunID, in.FunctionName, nullIfEmpty(in.FilePath), nullIfZero(in.LineNumber),
		calledAt, nullIfEmpty(in.ReturnedAt), durationArg(in.DurationMs), argsJSON, kwargsJSON,
		returnJSON, nullIfEmpty(in.ExceptionType), nullIfEmpty(in.ExceptionMessage),
		nullIfEmpty(in.ExceptionTraceback), nullIfEmpty(in.ParentCallID), in.Depth,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return callID, nil
}

// GetTraceRun fetches a trace run by id. Returns (nil, nil) if not found.
func (s *Store) GetTraceRun(runID string) (*TraceRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT run_id, started_at, ended_at, command, exit_code, status FROM trace_runs WHERE run_id = ?", runID)
	run, err := scanTraceRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return run, nil
}

// ListTraceRuns returns the most recent trace runs, newest first, along
// with how many calls each recorded.
func (s *Store) ListTraceRuns(limit int) ([]TraceRun, map[string]int, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT run_id, started_at, ended_at, command, exit_code, status FROM trace_runs ORDER BY started_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	var runs []TraceRun
	for rows.Next() {
		run, err := scanTraceRun(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	counts := map[string]int{}
	for _, run := range runs {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM trace_calls WHERE run_id = ?", run.RunID).Scan(&n); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		counts[run.RunID] = n
	}
	return runs, counts, nil
}

// GetCallsForRun returns every call recorded for a run, ordered by
// called_at. When includeArgs is false the serialized payload fields are
// stripped from the result.
func (s *Store) GetCallsForRun(runID string, includeArgs, onlyExceptions bool) ([]TraceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT call_id, run_id, function_name, file_path, line_number, called_at, returned_at, duration_ms, args_json, kwargs_json, return_value_json, exception_type, exception_message, exception_traceback, parent_call_id, depth FROM trace_calls WHERE run_id = ?"
	args := []any{runID}
	if onlyExceptions {
		query += " AND exception_type IS NOT NULL"
	}
	query += " ORDER BY called_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	return collectTraceCalls(rows, includeArgs)
}

// GetRecentCalls returns the most recent calls to functionName across all
// runs. A '%' in functionName switches to a LIKE match.
func (s *Store) GetRecentCalls(functionName string, limit int, includeArgs bool) ([]TraceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op := "="
	if containsWildcard(functionName) {
		op = "LIKE"
	}
	query := fmt.Sprintf("SELECT call_id, run_id, function_name, file_path, line_number, called_at, returned_at, duration_ms, args_json, kwargs_json, return_value_json, exception_type, exception_message, exception_traceback, parent_call_id, depth FROM trace_calls WHERE function_name %s ? ORDER BY called_at DESC LIMIT ?", op)

	rows, err := s.db.Query(query, functionName, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	return collectTraceCalls(rows, includeArgs)
}

// GetFailedCalls returns calls that raised an exception, optionally
// scoped to one run.
func (s *Store) GetFailedCalls(runID string, limit int) ([]TraceCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT call_id, run_id, function_name, file_path, line_number, called_at, returned_at, duration_ms, args_json, kwargs_json, return_value_json, exception_type, exception_message, exception_traceback, parent_call_id, depth FROM trace_calls WHERE exception_type IS NOT NULL"
	var args []any
	if runID != "" {
		query += " AND run_id = ?"
		args = append(args, runID)
	}
	query += " ORDER BY called_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()

	return collectTraceCalls(rows, true)
}

// TraceStats summarizes either one run or the whole store.
type TraceStats struct {
	RunID          string
	Status         string
	RunCount       int64
	CallCount      int64
	ExceptionCount int64
	AvgDurationMs  float64
	MaxDepth       int
	TopFunctions   []FunctionCallCount
}

// FunctionCallCount pairs a function name with how many times it was called.
type FunctionCallCount struct {
	Function string
	Count    int64
}

// GetTraceStats summarizes one run (runID non-empty) or the whole store.
func (s *Store) GetTraceStats(runID string) (*TraceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if runID != "" {
		row := s.db.QueryRow("SELECT status FROM trace_runs WHERE run_id = ?", runID)
		var status string
		if err := row.Scan(&status); err == sql.ErrNoRows {
			return nil, nil
		} else if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		stats := &TraceStats{RunID: runID, Status: status}
		s.db.QueryRow("SELECT COUNT(*) FROM trace_calls WHERE run_id = ?", runID).Scan(&stats.CallCount)
		s.db.QueryRow("SELECT COUNT(*) FROM trace_calls WHERE run_id = ? AND exception_type IS NOT NULL", runID).Scan(&stats.ExceptionCount)
		var avg sql.NullFloat64
		s.db.QueryRow("SELECT AVG(duration_ms) FROM trace_calls WHERE run_id = ? AND duration_ms IS NOT NULL", runID).Scan(&avg)
		stats.AvgDurationMs = avg.Float64
		var maxDepth sql.NullInt64
		s.db.QueryRow("SELECT MAX(depth) FROM trace_calls WHERE run_id = ?", runID).Scan(&maxDepth)
		stats.MaxDepth = int(maxDepth.Int64)
		return stats, nil
	}

	stats := &TraceStats{}
	s.db.QueryRow("SELECT COUNT(*) FROM trace_runs").Scan(&stats.RunCount)
	s.db.QueryRow("SELECT COUNT(*) FROM trace_calls").Scan(&stats.CallCount)
	s.db.QueryRow("SELECT COUNT(*) FROM trace_calls WHERE exception_type IS NOT NULL").Scan(&stats.ExceptionCount)

	rows, err := s.db.Query(`SELECT function_name, COUNT(*) as count FROM trace_calls GROUP BY function_name ORDER BY count DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	for rows.Next() {
		var fc FunctionCallCount
		if err := rows.Scan(&fc.Function, &fc.Count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		stats.TopFunctions = append(stats.TopFunctions, fc)
	}
	return stats, nil
}

func scanTraceRun(row rowScanner) (*TraceRun, error) {
	var r TraceRun
	var endedAt, command sql.NullString
	var exitCode sql.NullInt64
	if err := row.Scan(&r.RunID, &r.StartedAt, &endedAt, &command, &exitCode, &r.Status); err != nil {
		return nil, err
	}
	r.EndedAt = endedAt.String
	r.Command = command.String
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	return &r, nil
}

func collectTraceCalls(rows *sql.Rows, includeArgs bool) ([]TraceCall, error) {
	calls := []TraceCall{}
	for rows.Next() {
		var c TraceCall
		var filePath, returnedAt, argsJSON, kwargsJSON, returnJSON sql.NullString
		var lineNumber sql.NullInt64
		var durationMs sql.NullFloat64
		var excType, excMsg, excTrace, parentCallID sql.NullString
		if err := rows.Scan(
			&c.CallID, &c.RunID, &c.FunctionName, &filePath, &lineNumber,
			&c.CalledAt, &returnedAt, &durationMs, &argsJSON, &kwargsJSON,
			&returnJSON, &excType, &excMsg, &excTrace, &parentCallID, &c.Depth,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		c.FilePath = filePath.String
		c.LineNumber = int(lineNumber.Int64)
		c.ReturnedAt = returnedAt.String
		if durationMs.Valid {
			v := durationMs.Float64
			c.DurationMs = &v
		}
		c.ExceptionType = excType.String
		c.ExceptionMessage = excMsg.String
		c.ExceptionTraceback = excTrace.String
		c.ParentCallID = parentCallID.String

		if includeArgs {
			c.ArgsJSON = argsJSON.String
			c.KwargsJSON = kwargsJSON.String
			c.ReturnValueJSON = returnJSON.String
			if argsJSON.Valid && argsJSON.String != "" {
				json.Unmarshal([]byte(argsJSON.String), &c.Args)
			}
			if kwargsJSON.Valid && kwargsJSON.String != "" {
				json.Unmarshal([]byte(kwargsJSON.String), &c.Kwargs)
			}
			if returnJSON.Valid && returnJSON.String != "" {
				json.Unmarshal([]byte(returnJSON.String), &c.ReturnValue)
			}
		}

		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func exitCodeArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func durationArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func containsWildcard(s string) bool {
	for _, r := range s {
		if r == '%' {
			return true
		}
	}
	return false
}
