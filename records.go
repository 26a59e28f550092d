package wardsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

const metaColumns = "local_id, server_id, synced, deleted, revision, created_at, updated_at"

// domainColumns lists the columns each table reads, in scan order.
var domainColumns = map[Table]string{
	TablePatients:       "name, mrn, date_of_birth, sex, notes",
	TableTreatmentPlans: "patient_local_id, title, diagnosis, status, start_date",
	TablePlanSteps:      "plan_local_id, step_number, description, status, due_date",
}

type columnKind int

const (
	columnText columnKind = iota
	columnRequiredText
	columnDate
	columnPlanStatus
	columnStepStatus
	columnStepNumber
)

// writableColumns are the columns Update accepts per table. Parent
// references and bookkeeping columns are not writable.
var writableColumns = map[Table]map[string]columnKind{
	TablePatients: {
		"name":          columnRequiredText,
		"mrn":           columnText,
		"date_of_birth": columnDate,
		"sex":           columnText,
		"notes":         columnText,
	},
	TableTreatmentPlans: {
		"title":      columnRequiredText,
		"diagnosis":  columnText,
		"status":     columnPlanStatus,
		"start_date": columnDate,
	},
	TablePlanSteps: {
		"step_number": columnStepNumber,
		"description": columnText,
		"status":      columnStepStatus,
		"due_date":    columnDate,
	},
}

// metaRow is the scan target for the bookkeeping columns.
type metaRow struct {
	localID   int64
	serverID  sql.NullString
	synced    bool
	deleted   bool
	revision  int64
	createdAt string
	updatedAt string
}

func (m *metaRow) dest() []any {
	return []any{&m.localID, &m.serverID, &m.synced, &m.deleted, &m.revision, &m.createdAt, &m.updatedAt}
}

func (m *metaRow) meta() Meta {
	return Meta{
		LocalID:   m.localID,
		ServerID:  m.serverID.String,
		Synced:    m.synced,
		Deleted:   m.deleted,
		Revision:  m.revision,
		CreatedAt: parseTime(m.createdAt),
		UpdatedAt: parseTime(m.updatedAt),
	}
}

// scanRecord scans one row of table from any scanner (Row or Rows).
// Returns ErrNotFound only for sql.ErrNoRows from *sql.Row.
func scanRecord(table Table, sc scanner) (Record, error) {
	var (
		m   metaRow
		rec Record
		err error
	)
	switch table {
	case TablePatients:
		p := &Patient{}
		err = sc.Scan(append(m.dest(), &p.Name, &p.MRN, &p.DateOfBirth, &p.Sex, &p.Notes)...)
		rec = p
	case TableTreatmentPlans:
		tp := &TreatmentPlan{}
		err = sc.Scan(append(m.dest(), &tp.PatientLocalID, &tp.Title, &tp.Diagnosis, &tp.Status, &tp.StartDate)...)
		rec = tp
	case TablePlanSteps:
		ps := &PlanStep{}
		err = sc.Scan(append(m.dest(), &ps.PlanLocalID, &ps.StepNumber, &ps.Description, &ps.Status, &ps.DueDate)...)
		rec = ps
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	*rec.meta() = m.meta()
	return rec, nil
}

func getRecord(ctx context.Context, q dbtx, table Table, localID int64) (Record, error) {
	cols, ok := domainColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	row := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM %s WHERE local_id = ?`, metaColumns, cols, table), localID)
	return scanRecord(table, row)
}

func listRecords(ctx context.Context, q dbtx, table Table, where string, orderBy string, args ...any) ([]Record, error) {
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s ORDER BY %s`, metaColumns, domainColumns[table], table, where, orderBy),
		args...)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", table, err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// insertRecord validates rec, checks its parent is live, and inserts it.
// On success rec's bookkeeping fields reflect the stored row.
func (s *Store) insertRecord(ctx context.Context, q dbtx, rec Record) (int64, error) {
	now := s.timestamp()

	if table, parentID, ok := rec.ParentRef(); ok && parentID > 0 {
		parent, err := getRecord(ctx, q, table, parentID)
		if errors.Is(err, ErrNotFound) || (err == nil && parent.Bookkeeping().Deleted) {
			return 0, fmt.Errorf("%w: parent %s #%d", ErrNotFound, table, parentID)
		}
		if err != nil {
			return 0, fmt.Errorf("store: load parent: %w", err)
		}
	}

	var (
		res sql.Result
		err error
	)
	switch r := rec.(type) {
	case *Patient:
		if err := r.PatientFields.Validate(); err != nil {
			return 0, err
		}
		res, err = q.ExecContext(ctx, `
			INSERT INTO patients (name, mrn, date_of_birth, sex, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.Name, r.MRN, r.DateOfBirth, r.Sex, r.Notes, now, now)
	case *TreatmentPlan:
		if r.Status == "" {
			r.Status = PlanStatusDraft
		}
		if err := r.PlanFields.Validate(); err != nil {
			return 0, err
		}
		res, err = q.ExecContext(ctx, `
			INSERT INTO treatment_plans (patient_local_id, title, diagnosis, status, start_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.PatientLocalID, r.Title, r.Diagnosis, r.Status, r.StartDate, now, now)
	case *PlanStep:
		if r.Status == "" {
			r.Status = StepStatusPending
		}
		if err := r.StepFields.Validate(); err != nil {
			return 0, err
		}
		res, err = q.ExecContext(ctx, `
			INSERT INTO plan_steps (plan_local_id, step_number, description, status, due_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.PlanLocalID, r.StepNumber, r.Description, r.Status, r.DueDate, now, now)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownTable, rec)
	}
	if err != nil {
		return 0, fmt.Errorf("store: insert %s: %w", rec.Table(), err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert %s: %w", rec.Table(), err)
	}

	ts := parseTime(now)
	*rec.meta() = Meta{LocalID: id, Revision: 1, CreatedAt: ts, UpdatedAt: ts}
	return id, nil
}

// normalizeField checks a single update value against its column kind.
func normalizeField(kind columnKind, name string, v any) (any, error) {
	if kind == columnStepNumber {
		var n int64
		switch x := v.(type) {
		case int:
			n = int64(x)
		case int64:
			n = x
		case float64:
			if x != math.Trunc(x) {
				return nil, &ValidationError{Field: name, Message: "must be an integer"}
			}
			n = int64(x)
		default:
			return nil, &ValidationError{Field: name, Message: "must be an integer"}
		}
		if n < 1 {
			return nil, &ValidationError{Field: name, Message: "must be at least 1"}
		}
		return n, nil
	}

	str, ok := v.(string)
	if !ok {
		return nil, &ValidationError{Field: name, Message: "must be a string"}
	}
	switch kind {
	case columnRequiredText:
		if strings.TrimSpace(str) == "" {
			return nil, &ValidationError{Field: name, Message: "required"}
		}
	case columnDate:
		if err := validateDate(name, str); err != nil {
			return nil, err
		}
	case columnPlanStatus:
		if err := validatePlanStatus(str); err != nil {
			return nil, err
		}
	case columnStepStatus:
		if err := validateStepStatus(str); err != nil {
			return nil, err
		}
	}
	return str, nil
}

// updateRecord applies a partial update. Domain changes bump the revision.
// synced is cleared unless fields carries synced=true.
func (s *Store) updateRecord(ctx context.Context, q dbtx, table Table, localID int64, fields Fields) error {
	writable, ok := writableColumns[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if len(fields) == 0 {
		return &ValidationError{Field: "fields", Message: "nothing to update"}
	}

	markSynced := false
	names := make([]string, 0, len(fields))
	for name, v := range fields {
		if name == "synced" {
			b, ok := v.(bool)
			if !ok {
				return &ValidationError{Field: "synced", Message: "must be a boolean"}
			}
			markSynced = b
			continue
		}
		if _, ok := writable[name]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, table, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+3)
	args := make([]any, 0, len(names)+3)
	for _, name := range names {
		v, err := normalizeField(writable[name], name, fields[name])
		if err != nil {
			return err
		}
		sets = append(sets, name+" = ?")
		args = append(args, v)
	}
	if len(names) > 0 {
		sets = append(sets, "revision = revision + 1")
	}
	sets = append(sets, "synced = ?", "updated_at = ?")
	args = append(args, markSynced, s.timestamp(), localID)

	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE local_id = ? AND deleted = 0`, table, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s #%d", ErrNotFound, table, localID)
	}
	return nil
}

func (s *Store) softDelete(ctx context.Context, q dbtx, table Table, localID int64) error {
	if !table.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted = 1, synced = 0, revision = revision + 1, updated_at = ?
			WHERE local_id = ? AND deleted = 0`, table),
		s.timestamp(), localID)
	if err != nil {
		return fmt.Errorf("store: soft delete %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s #%d", ErrNotFound, table, localID)
	}
	return nil
}

// Create stores a new record, stamping createdAt, updatedAt and synced=false.
// It does not enqueue a mutation; see Record for the atomic variant.
func (s *Store) Create(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertRecord(ctx, tx, rec)
		return err
	})
	return id, err
}

// Update applies a partial update, refreshing updatedAt and forcing
// synced=false unless fields carries synced=true.
func (s *Store) Update(ctx context.Context, table Table, localID int64, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.updateRecord(ctx, s.db, table, localID, fields)
}

// SoftDelete marks a single record deleted without touching its children
// or the queue; see Remove for the cascading, queued variant. The row stays
// until its delete is acknowledged remotely.
func (s *Store) SoftDelete(ctx context.Context, table Table, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.softDelete(ctx, s.db, table, localID)
}

// Get returns a record by local identity, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, table Table, localID int64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return getRecord(ctx, s.db, table, localID)
}

// Patient returns a patient by local identity.
func (s *Store) Patient(ctx context.Context, localID int64) (*Patient, error) {
	rec, err := s.Get(ctx, TablePatients, localID)
	if err != nil {
		return nil, err
	}
	return rec.(*Patient), nil
}

// Plan returns a treatment plan by local identity.
func (s *Store) Plan(ctx context.Context, localID int64) (*TreatmentPlan, error) {
	rec, err := s.Get(ctx, TableTreatmentPlans, localID)
	if err != nil {
		return nil, err
	}
	return rec.(*TreatmentPlan), nil
}

// Step returns a plan step by local identity.
func (s *Store) Step(ctx context.Context, localID int64) (*PlanStep, error) {
	rec, err := s.Get(ctx, TablePlanSteps, localID)
	if err != nil {
		return nil, err
	}
	return rec.(*PlanStep), nil
}

// Patients lists live patients in creation order.
func (s *Store) Patients(ctx context.Context) ([]*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs, err := listRecords(ctx, s.db, TablePatients, "deleted = 0", "local_id")
	if err != nil {
		return nil, err
	}
	out := make([]*Patient, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(*Patient))
	}
	return out, nil
}

// PlansForPatient lists a patient's live treatment plans.
func (s *Store) PlansForPatient(ctx context.Context, patientLocalID int64) ([]*TreatmentPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs, err := listRecords(ctx, s.db, TableTreatmentPlans, "deleted = 0 AND patient_local_id = ?", "local_id", patientLocalID)
	if err != nil {
		return nil, err
	}
	out := make([]*TreatmentPlan, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(*TreatmentPlan))
	}
	return out, nil
}

// StepsForPlan lists a plan's live steps ordered by step number.
func (s *Store) StepsForPlan(ctx context.Context, planLocalID int64) ([]*PlanStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs, err := listRecords(ctx, s.db, TablePlanSteps, "deleted = 0 AND plan_local_id = ?", "step_number, local_id", planLocalID)
	if err != nil {
		return nil, err
	}
	out := make([]*PlanStep, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(*PlanStep))
	}
	return out, nil
}

// Purge physically removes a record. Only the sync executor calls this,
// after the delete is acknowledged or when the record never reached the server.
func (s *Store) Purge(ctx context.Context, table Table, localID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !table.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, table), localID); err != nil {
		return fmt.Errorf("store: purge %s: %w", table, err)
	}
	return nil
}

// MarkSynced stores the server identity, keeping one that is already
// recorded, and sets synced=true only if the record's revision still equals
// the one that was pushed. A local edit
// that landed during the push keeps the record unsynced. Reports whether
// the record is now synced.
func (s *Store) MarkSynced(ctx context.Context, table Table, localID int64, serverID string, revision int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	if !table.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var synced bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET server_id = COALESCE(server_id, ?),
			    synced = CASE WHEN revision = ? AND deleted = 0 THEN 1 ELSE 0 END,
			    updated_at = ?
			WHERE local_id = ?
		`, table), nullString(serverID), revision, s.timestamp(), localID)
		if err != nil {
			return fmt.Errorf("store: mark synced: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s #%d", ErrNotFound, table, localID)
		}
		return tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT synced FROM %s WHERE local_id = ?`, table), localID).Scan(&synced)
	})
	return synced, err
}

// Record creates rec and enqueues its create mutation in one transaction.
func (s *Store) Record(ctx context.Context, rec Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if id, err = s.insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		_, err = s.enqueue(ctx, tx, ActionCreate, rec.Table(), id, rec.Snapshot())
		return err
	})
	return id, err
}

// Change updates a record and enqueues an update carrying the new snapshot,
// in one transaction. Returns the queue ID.
func (s *Store) Change(ctx context.Context, table Table, localID int64, fields Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if _, ok := fields["synced"]; ok {
		return 0, fmt.Errorf("%w: synced", ErrUnknownField)
	}

	var queueID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateRecord(ctx, tx, table, localID, fields); err != nil {
			return err
		}
		rec, err := getRecord(ctx, tx, table, localID)
		if err != nil {
			return err
		}
		queueID, err = s.enqueue(ctx, tx, ActionUpdate, table, localID, rec.Snapshot())
		return err
	})
	return queueID, err
}

// Remove soft-deletes a record and enqueues its delete in one transaction.
// Live children are removed with it: plans under a patient, steps under a
// plan. Their deletes are queued ahead of the parent's. Returns the queue ID
// of the parent's delete.
func (s *Store) Remove(ctx context.Context, table Table, localID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var queueID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		queueID, err = s.removeTree(ctx, tx, table, localID)
		return err
	})
	return queueID, err
}

// childLinks names, per parent table, the table that references it and the
// referencing column.
var childLinks = map[Table]struct {
	table  Table
	column string
}{
	TablePatients:       {TableTreatmentPlans, "patient_local_id"},
	TableTreatmentPlans: {TablePlanSteps, "plan_local_id"},
}

func (s *Store) removeTree(ctx context.Context, tx *sql.Tx, table Table, localID int64) (int64, error) {
	if link, ok := childLinks[table]; ok {
		children, err := liveChildIDs(ctx, tx, link.table, link.column, localID)
		if err != nil {
			return 0, err
		}
		for _, id := range children {
			if _, err := s.removeTree(ctx, tx, link.table, id); err != nil {
				return 0, err
			}
		}
	}

	if err := s.softDelete(ctx, tx, table, localID); err != nil {
		return 0, err
	}
	rec, err := getRecord(ctx, tx, table, localID)
	if err != nil {
		return 0, err
	}
	return s.enqueue(ctx, tx, ActionDelete, table, localID, Tombstone{ServerID: rec.Bookkeeping().ServerID})
}

func liveChildIDs(ctx context.Context, q dbtx, table Table, column string, parentID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT local_id FROM %s WHERE %s = ? AND deleted = 0 ORDER BY local_id`, table, column),
		parentID)
	if err != nil {
		return nil, fmt.Errorf("store: list %s children: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan %s child: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
