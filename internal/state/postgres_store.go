package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/Awign-PM-Prod/securepath-pro-sub001/db/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) CreateCase(ctx context.Context, c CaseRecord) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cases (id, pincode, pincode_tier, priority, status, assignee_id, assignee_type, vendor_id, wave, acceptance_deadline, nudged_at, created_at, allocated_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.Pincode, c.PincodeTier, c.Priority, c.Status, c.AssigneeID, c.AssigneeType, c.VendorID, c.Wave,
		nullTime(c.AcceptanceDeadline), nullTime(c.NudgedAt), c.CreatedAt, nullTime(c.AllocatedAt), c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetCase(ctx context.Context, caseID string) (CaseRecord, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, pincode, pincode_tier, priority, status, assignee_id, assignee_type, vendor_id, wave, acceptance_deadline, nudged_at, created_at, allocated_at, updated_at
		 FROM cases WHERE id = $1`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CaseRecord{}, false, nil
	}
	if err != nil {
		return CaseRecord{}, false, err
	}
	return c, true, nil
}

func (p *PostgresStore) UpdateCase(ctx context.Context, c CaseRecord) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := p.db.ExecContext(ctx,
		`UPDATE cases SET status=$2, assignee_id=$3, assignee_type=$4, vendor_id=$5, wave=$6, acceptance_deadline=$7, nudged_at=$8, allocated_at=$9, updated_at=$10 WHERE id=$1`,
		c.ID, c.Status, c.AssigneeID, c.AssigneeType, c.VendorID, c.Wave,
		nullTime(c.AcceptanceDeadline), nullTime(c.NudgedAt), nullTime(c.AllocatedAt), c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("case %s not found", c.ID)
	}
	return nil
}

func (p *PostgresStore) ListCasesByStatus(ctx context.Context, status string) ([]CaseRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, pincode, pincode_tier, priority, status, assignee_id, assignee_type, vendor_id, wave, acceptance_deadline, nudged_at, created_at, allocated_at, updated_at
		 FROM cases WHERE ($1 = '' OR status = $1) ORDER BY id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCases(rows)
}

func (p *PostgresStore) ListExpiredAllocatedCases(ctx context.Context, now time.Time) ([]CaseRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, pincode, pincode_tier, priority, status, assignee_id, assignee_type, vendor_id, wave, acceptance_deadline, nudged_at, created_at, allocated_at, updated_at
		 FROM cases WHERE status = 'allocated' AND acceptance_deadline IS NOT NULL AND acceptance_deadline < $1 ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCases(rows)
}

func (p *PostgresStore) ListNudgeDueCases(ctx context.Context, allocatedBefore, now time.Time) ([]CaseRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, pincode, pincode_tier, priority, status, assignee_id, assignee_type, vendor_id, wave, acceptance_deadline, nudged_at, created_at, allocated_at, updated_at
		 FROM cases
		 WHERE status = 'allocated' AND nudged_at IS NULL
		   AND allocated_at IS NOT NULL AND allocated_at < $1
		   AND (acceptance_deadline IS NULL OR acceptance_deadline >= $2)
		 ORDER BY id`, allocatedBefore, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCases(rows)
}

func (p *PostgresStore) UpsertCandidate(ctx context.Context, cand CandidateRecord) error {
	pincodes, err := json.Marshal(cand.Pincodes)
	if err != nil {
		return err
	}
	tiers, err := json.Marshal(cand.Tiers)
	if err != nil {
		return err
	}
	cand.UpdatedAt = time.Now().UTC()
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO candidates (id, type, vendor_id, name, pincodes_json, tiers_json, quality_score, completion_rate, ontime_rate, acceptance_rate, max_daily_capacity, active_cases_count, active, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13)
		 ON CONFLICT (id) DO UPDATE SET
		   type=EXCLUDED.type, vendor_id=EXCLUDED.vendor_id, name=EXCLUDED.name,
		   pincodes_json=EXCLUDED.pincodes_json, tiers_json=EXCLUDED.tiers_json,
		   quality_score=EXCLUDED.quality_score, completion_rate=EXCLUDED.completion_rate,
		   ontime_rate=EXCLUDED.ontime_rate, acceptance_rate=EXCLUDED.acceptance_rate,
		   max_daily_capacity=EXCLUDED.max_daily_capacity, active=EXCLUDED.active,
		   updated_at=EXCLUDED.updated_at`,
		cand.ID, cand.Type, cand.VendorID, cand.Name, string(pincodes), string(tiers),
		cand.QualityScore, cand.CompletionRate, cand.OnTimeRate, cand.AcceptanceRate,
		cand.MaxDailyCapacity, cand.Active, cand.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetCandidate(ctx context.Context, candidateID string) (CandidateRecord, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, type, vendor_id, name, pincodes_json, tiers_json, quality_score, completion_rate, ontime_rate, acceptance_rate, max_daily_capacity, max_daily_capacity, active_cases_count, active, updated_at
		 FROM candidates WHERE id = $1`, candidateID)
	cand, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CandidateRecord{}, false, nil
	}
	if err != nil {
		return CandidateRecord{}, false, err
	}
	return cand, true, nil
}

func (p *PostgresStore) ListCandidatesByCoverage(ctx context.Context, q CandidateQuery, day string) ([]CandidateRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT c.id, c.type, c.vendor_id, c.name, c.pincodes_json, c.tiers_json,
		        c.quality_score, c.completion_rate, c.ontime_rate, c.acceptance_rate,
		        c.max_daily_capacity, COALESCE(cap.current_available, c.max_daily_capacity),
		        c.active_cases_count, c.active, c.updated_at
		 FROM candidates c
		 LEFT JOIN capacity_records cap ON cap.candidate_id = c.id AND cap.day = $4
		 WHERE c.active AND (c.pincodes_json ? $1 OR (LOWER($3) = 'urgent' AND c.tiers_json ? $2))
		 ORDER BY c.id`,
		q.Pincode, q.Tier, q.Priority, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]CandidateRecord, 0, 16)
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AdjustCandidateActiveCases(ctx context.Context, candidateID string, delta int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE candidates SET active_cases_count = GREATEST(active_cases_count + $2, 0), updated_at = $3 WHERE id = $1`,
		candidateID, delta, time.Now().UTC())
	return err
}

func (p *PostgresStore) EnsureCapacity(ctx context.Context, candidateID, day string, maxDaily int) (CapacityRecord, error) {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO capacity_records (candidate_id, day, max_daily_capacity, current_available, cases_allocated, last_reset, active)
		 VALUES ($1,$2,$3,$3,0,$4,TRUE)
		 ON CONFLICT (candidate_id, day) DO NOTHING`,
		candidateID, day, maxDaily, time.Now().UTC()); err != nil {
		return CapacityRecord{}, err
	}
	rec, ok, err := p.GetCapacity(ctx, candidateID, day)
	if err != nil {
		return CapacityRecord{}, err
	}
	if !ok {
		return CapacityRecord{}, fmt.Errorf("capacity record %s/%s missing after ensure", candidateID, day)
	}
	return rec, nil
}

func (p *PostgresStore) GetCapacity(ctx context.Context, candidateID, day string) (CapacityRecord, bool, error) {
	var rec CapacityRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT candidate_id, day, max_daily_capacity, current_available, cases_allocated, last_reset, active
		 FROM capacity_records WHERE candidate_id = $1 AND day = $2`, candidateID, day,
	).Scan(&rec.CandidateID, &rec.Day, &rec.MaxDaily, &rec.Available, &rec.Allocated, &rec.LastReset, &rec.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return CapacityRecord{}, false, nil
	}
	if err != nil {
		return CapacityRecord{}, false, err
	}
	return rec, true, nil
}

func (p *PostgresStore) DecrementCapacity(ctx context.Context, candidateID, day string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE capacity_records
		 SET current_available = current_available - 1, cases_allocated = cases_allocated + 1
		 WHERE candidate_id = $1 AND day = $2 AND current_available > 0`,
		candidateID, day)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) IncrementCapacity(ctx context.Context, candidateID, day string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE capacity_records
		 SET current_available = LEAST(current_available + 1, max_daily_capacity),
		     cases_allocated = GREATEST(cases_allocated - 1, 0)
		 WHERE candidate_id = $1 AND day = $2`,
		candidateID, day)
	return err
}

func (p *PostgresStore) ResetCapacities(ctx context.Context, day string, resetAt time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO capacity_records (candidate_id, day, max_daily_capacity, current_available, cases_allocated, last_reset, active)
		 SELECT id, $1, max_daily_capacity, max_daily_capacity, 0, $2, TRUE
		 FROM candidates WHERE active AND max_daily_capacity > 0
		 ON CONFLICT (candidate_id, day) DO UPDATE SET
		   max_daily_capacity = EXCLUDED.max_daily_capacity,
		   current_available = EXCLUDED.current_available,
		   cases_allocated = 0,
		   last_reset = EXCLUDED.last_reset,
		   active = TRUE`,
		day, resetAt)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	return int(rows), err
}

func (p *PostgresStore) PutClaim(ctx context.Context, claim CapacityClaim) (bool, error) {
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = time.Now().UTC()
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO capacity_claims (candidate_id, case_id, day, created_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (candidate_id, case_id) DO NOTHING`,
		claim.CandidateID, claim.CaseID, claim.Day, claim.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) DeleteClaim(ctx context.Context, candidateID, caseID string) (CapacityClaim, bool, error) {
	var claim CapacityClaim
	err := p.db.QueryRowContext(ctx,
		`DELETE FROM capacity_claims WHERE candidate_id = $1 AND case_id = $2 RETURNING candidate_id, case_id, day, created_at`,
		candidateID, caseID,
	).Scan(&claim.CandidateID, &claim.CaseID, &claim.Day, &claim.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CapacityClaim{}, false, nil
	}
	if err != nil {
		return CapacityClaim{}, false, err
	}
	return claim, true, nil
}

func (p *PostgresStore) AppendDecision(ctx context.Context, d DecisionRecord) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO allocation_decisions (id, case_id, candidate_id, candidate_type, wave, decision, score, acceptance_deadline, reason, created_at, decided_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.CaseID, d.CandidateID, d.CandidateType, d.Wave, d.Decision, d.Score,
		nullTime(d.AcceptanceDeadline), d.Reason, d.CreatedAt, nullTime(d.DecidedAt))
	return err
}

func (p *PostgresStore) ResolveDecision(ctx context.Context, caseID, outcome, reason string, decidedAt time.Time) (DecisionRecord, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE allocation_decisions SET decision = $2, reason = $3, decided_at = $4
		 WHERE id = (
		   SELECT id FROM allocation_decisions
		   WHERE case_id = $1 AND decision = 'allocated'
		   ORDER BY wave DESC LIMIT 1
		 )
		 RETURNING id, case_id, candidate_id, candidate_type, wave, decision, score, acceptance_deadline, reason, created_at, decided_at`,
		caseID, outcome, reason, decidedAt)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DecisionRecord{}, false, nil
	}
	if err != nil {
		return DecisionRecord{}, false, err
	}
	return d, true, nil
}

func (p *PostgresStore) ListDecisionsByCase(ctx context.Context, caseID string) ([]DecisionRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, case_id, candidate_id, candidate_type, wave, decision, score, acceptance_deadline, reason, created_at, decided_at
		 FROM allocation_decisions WHERE case_id = $1 ORDER BY wave, created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]DecisionRecord, 0, 8)
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendAuditEvent(ctx context.Context, event AuditEventRecord) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var prevHash sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	event.PrevHash = prevHash.String
	event.EventHash = computeAuditHash(event)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_events (action, actor, remote_addr, resource, payload_hash, prev_hash, event_hash, result, details, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		event.Action, event.Actor, event.RemoteAddr, event.Resource, event.PayloadHash,
		event.PrevHash, event.EventHash, event.Result, event.Details, event.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, action, actor, remote_addr, resource, payload_hash, prev_hash, event_hash, result, details, created_at
		 FROM audit_events
		 WHERE ($1 = '' OR action = $1)
		   AND ($2 = '' OR actor = $2)
		   AND ($3 = '' OR result = $3)
		   AND ($4::timestamptz IS NULL OR created_at >= $4)
		   AND ($5::timestamptz IS NULL OR created_at <= $5)
		 ORDER BY id DESC LIMIT $6 OFFSET $7`,
		query.Action, query.Actor, query.Result, nullTime(query.From), nullTime(query.To), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AuditEventRecord, 0, limit)
	for rows.Next() {
		var a AuditEventRecord
		if err := rows.Scan(&a.ID, &a.Action, &a.Actor, &a.RemoteAddr, &a.Resource, &a.PayloadHash, &a.PrevHash, &a.EventHash, &a.Result, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (CaseRecord, error) {
	var c CaseRecord
	var deadline, nudged, allocated sql.NullTime
	err := row.Scan(&c.ID, &c.Pincode, &c.PincodeTier, &c.Priority, &c.Status, &c.AssigneeID, &c.AssigneeType, &c.VendorID, &c.Wave, &deadline, &nudged, &c.CreatedAt, &allocated, &c.UpdatedAt)
	if err != nil {
		return CaseRecord{}, err
	}
	c.AcceptanceDeadline = deadline.Time
	c.NudgedAt = nudged.Time
	c.AllocatedAt = allocated.Time
	return c, nil
}

func collectCases(rows *sql.Rows) ([]CaseRecord, error) {
	out := make([]CaseRecord, 0, 16)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandidate(row rowScanner) (CandidateRecord, error) {
	var cand CandidateRecord
	var pincodes, tiers []byte
	err := row.Scan(&cand.ID, &cand.Type, &cand.VendorID, &cand.Name, &pincodes, &tiers,
		&cand.QualityScore, &cand.CompletionRate, &cand.OnTimeRate, &cand.AcceptanceRate,
		&cand.MaxDailyCapacity, &cand.CapacityAvailable, &cand.ActiveCases, &cand.Active, &cand.UpdatedAt)
	if err != nil {
		return CandidateRecord{}, err
	}
	if len(pincodes) > 0 {
		if err := json.Unmarshal(pincodes, &cand.Pincodes); err != nil {
			return CandidateRecord{}, err
		}
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &cand.Tiers); err != nil {
			return CandidateRecord{}, err
		}
	}
	return cand, nil
}

func scanDecision(row rowScanner) (DecisionRecord, error) {
	var d DecisionRecord
	var deadline, decided sql.NullTime
	err := row.Scan(&d.ID, &d.CaseID, &d.CandidateID, &d.CandidateType, &d.Wave, &d.Decision, &d.Score, &deadline, &d.Reason, &d.CreatedAt, &decided)
	if err != nil {
		return DecisionRecord{}, err
	}
	d.AcceptanceDeadline = deadline.Time
	d.DecidedAt = decided.Time
	return d, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
