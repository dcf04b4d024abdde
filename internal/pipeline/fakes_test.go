package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tariffops/htsflow/internal/domain"
	"github.com/tariffops/htsflow/internal/repository"

	"github.com/google/uuid"
)

// In-memory repository fakes. They implement just enough of the persistence
// semantics for the orchestrator to run end to end: keyset paging, upsert by
// (import, code), row-hash promotion, and the single-active-per-code rule.

type fakeJobRepo struct {
	jobs map[uuid.UUID]*domain.ImportJob
	// checkpoints records every save in order, so tests can assert progress
	// only moves forward.
	checkpoints map[uuid.UUID][]domain.Checkpoint
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		jobs:        make(map[uuid.UUID]*domain.ImportJob),
		checkpoints: make(map[uuid.UUID][]domain.Checkpoint),
	}
}

func (r *fakeJobRepo) Create(_ context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	stored := job
	r.jobs[job.ID] = &stored
	return stored, nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (domain.ImportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return domain.ImportJob{}, fmt.Errorf("job %s not found", id)
	}
	return *job, nil
}

func (r *fakeJobRepo) List(_ context.Context, limit, offset int) ([]domain.ImportJob, error) {
	out := make([]domain.ImportJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ImportStatus) error {
	r.jobs[id].Status = status
	return nil
}

func (r *fakeJobRepo) SaveCheckpoint(_ context.Context, id uuid.UUID, cp domain.Checkpoint) error {
	r.jobs[id].Checkpoint = cp
	r.checkpoints[id] = append(r.checkpoints[id], cp)
	return nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id uuid.UUID, message, detail string) error {
	job := r.jobs[id]
	job.Status = domain.ImportStatusFailed
	job.ErrorMessage = message
	job.ErrorDetail = detail
	return nil
}

func (r *fakeJobRepo) AppendLog(_ context.Context, id uuid.UUID, line string) error {
	job := r.jobs[id]
	job.LogLines = append(job.LogLines, line)
	return nil
}

func (r *fakeJobRepo) UpdateCounters(_ context.Context, id uuid.UUID, counters domain.ImportCounters) error {
	r.jobs[id].Counters = counters
	return nil
}

func (r *fakeJobRepo) SaveValidationSummary(_ context.Context, id uuid.UUID, summary domain.ValidationSummary) error {
	stored := summary
	r.jobs[id].Validation = &stored
	return nil
}

func (r *fakeJobRepo) SetGateOverride(_ context.Context, id uuid.UUID, override bool) error {
	r.jobs[id].GateOverride = override
	return nil
}

type fakeStagedRepo struct {
	entries map[uuid.UUID]map[string]domain.StagedEntry
}

func newFakeStagedRepo() *fakeStagedRepo {
	return &fakeStagedRepo{entries: make(map[uuid.UUID]map[string]domain.StagedEntry)}
}

func (r *fakeStagedRepo) DeleteByImport(_ context.Context, importID uuid.UUID) (int64, error) {
	deleted := int64(len(r.entries[importID]))
	delete(r.entries, importID)
	return deleted, nil
}

func (r *fakeStagedRepo) UpsertBatch(_ context.Context, entries []domain.StagedEntry) error {
	for _, entry := range entries {
		byCode, ok := r.entries[entry.ImportID]
		if !ok {
			byCode = make(map[string]domain.StagedEntry)
			r.entries[entry.ImportID] = byCode
		}
		if existing, exists := byCode[entry.Code]; exists {
			entry.ID = existing.ID
		}
		byCode[entry.Code] = entry
	}
	return nil
}

func (r *fakeStagedRepo) ListPage(_ context.Context, importID uuid.UUID, afterCode string, limit int) ([]domain.StagedEntry, error) {
	var page []domain.StagedEntry
	for code, entry := range r.entries[importID] {
		if code > afterCode {
			page = append(page, entry)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].Code < page[j].Code })
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (r *fakeStagedRepo) CountByImport(_ context.Context, importID uuid.UUID) (int, error) {
	return len(r.entries[importID]), nil
}

type fakeIssueRepo struct {
	issues map[uuid.UUID][]domain.ValidationIssue
}

func newFakeIssueRepo() *fakeIssueRepo {
	return &fakeIssueRepo{issues: make(map[uuid.UUID][]domain.ValidationIssue)}
}

func (r *fakeIssueRepo) DeleteByImport(_ context.Context, importID uuid.UUID) error {
	delete(r.issues, importID)
	return nil
}

func (r *fakeIssueRepo) InsertBatch(_ context.Context, issues []domain.ValidationIssue) error {
	for _, issue := range issues {
		r.issues[issue.ImportID] = append(r.issues[issue.ImportID], issue)
	}
	return nil
}

func (r *fakeIssueRepo) ListByImport(_ context.Context, importID uuid.UUID, limit, offset int) ([]domain.ValidationIssue, error) {
	issues := r.issues[importID]
	if offset >= len(issues) {
		return nil, nil
	}
	issues = issues[offset:]
	if limit > 0 && len(issues) > limit {
		issues = issues[:limit]
	}
	return issues, nil
}

func (r *fakeIssueRepo) Summary(_ context.Context, importID uuid.UUID) (domain.ValidationSummary, error) {
	summary := domain.ValidationSummary{}
	for _, issue := range r.issues[importID] {
		summary.Total++
		switch issue.Severity {
		case domain.SeverityError:
			summary.ErrorCount++
		case domain.SeverityWarning:
			summary.WarningCount++
		case domain.SeverityInfo:
			summary.InfoCount++
		}
	}
	return summary, nil
}

type fakeDiffRepo struct {
	records map[uuid.UUID][]domain.DiffRecord
}

func newFakeDiffRepo() *fakeDiffRepo {
	return &fakeDiffRepo{records: make(map[uuid.UUID][]domain.DiffRecord)}
}

func (r *fakeDiffRepo) DeleteByImport(_ context.Context, importID uuid.UUID) error {
	delete(r.records, importID)
	return nil
}

func (r *fakeDiffRepo) InsertBatch(_ context.Context, records []domain.DiffRecord) error {
	for _, record := range records {
		r.records[record.ImportID] = append(r.records[record.ImportID], record)
	}
	return nil
}

func (r *fakeDiffRepo) ListByImport(_ context.Context, importID uuid.UUID, diffType *domain.DiffType, limit, offset int) ([]domain.DiffRecord, error) {
	var out []domain.DiffRecord
	for _, record := range r.records[importID] {
		if diffType != nil && record.DiffType != *diffType {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeDiffRepo) CountByType(_ context.Context, importID uuid.UUID) (map[domain.DiffType]int, error) {
	counts := make(map[domain.DiffType]int)
	for _, record := range r.records[importID] {
		counts[record.DiffType]++
	}
	return counts, nil
}

func (r *fakeDiffRepo) byCode(importID uuid.UUID) map[string]domain.DiffRecord {
	out := make(map[string]domain.DiffRecord)
	for _, record := range r.records[importID] {
		out[record.Code] = record
	}
	return out
}

type fakeTariffRepo struct {
	staged *fakeStagedRepo
	// entries holds every version ever promoted, active and inactive.
	entries []domain.TariffEntry
	// promoteErrs pops one injected error per PromoteBatch call.
	promoteErrs []error
}

func newFakeTariffRepo(staged *fakeStagedRepo) *fakeTariffRepo {
	return &fakeTariffRepo{staged: staged}
}

func (r *fakeTariffRepo) seed(entry domain.TariffEntry) {
	r.entries = append(r.entries, entry)
}

func (r *fakeTariffRepo) activeByCode(code string) (int, bool) {
	for i, entry := range r.entries {
		if entry.Code == code && entry.IsActive {
			return i, true
		}
	}
	return -1, false
}

func (r *fakeTariffRepo) byVersion(code, version string) (int, bool) {
	for i, entry := range r.entries {
		if entry.Code == code && entry.Version == version {
			return i, true
		}
	}
	return -1, false
}

// deactivateOthers switches off every active row for a code except keep, the
// same way promotion retires prior versions inside the batch transaction.
func (r *fakeTariffRepo) deactivateOthers(code string, keep uuid.UUID) {
	for i := range r.entries {
		if r.entries[i].Code == code && r.entries[i].IsActive && r.entries[i].ID != keep {
			r.entries[i].IsActive = false
		}
	}
}

func (r *fakeTariffRepo) GetActiveByCode(_ context.Context, code string) (domain.TariffEntry, error) {
	if i, ok := r.activeByCode(code); ok {
		return r.entries[i], nil
	}
	return domain.TariffEntry{}, repository.ErrEntryNotFound
}

func (r *fakeTariffRepo) ListActiveByCodes(_ context.Context, codes []string) ([]domain.TariffEntry, error) {
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[code] = true
	}
	var out []domain.TariffEntry
	for _, entry := range r.entries {
		if entry.IsActive && want[entry.Code] {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeTariffRepo) ListActiveNotStaged(_ context.Context, importID uuid.UUID) ([]domain.TariffEntry, error) {
	stagedCodes := r.staged.entries[importID]
	var out []domain.TariffEntry
	for _, entry := range r.entries {
		if !entry.IsActive {
			continue
		}
		if _, ok := stagedCodes[entry.Code]; !ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeTariffRepo) PromoteBatch(_ context.Context, version string, batch []domain.StagedEntry) (repository.PromoteBatchResult, error) {
	if len(r.promoteErrs) > 0 {
		err := r.promoteErrs[0]
		r.promoteErrs = r.promoteErrs[1:]
		if err != nil {
			return repository.PromoteBatchResult{}, err
		}
	}

	var result repository.PromoteBatchResult
	for _, staged := range batch {
		i, ok := r.byVersion(staged.Code, version)
		switch {
		case !ok:
			r.deactivateOthers(staged.Code, uuid.Nil)
			r.entries = append(r.entries, domain.NewTariffEntryFromStaged(staged, version))
			result.Inserted++
		case r.entries[i].RowHash == staged.RowHash && r.entries[i].IsActive:
			result.Skipped++
		case r.entries[i].RowHash == staged.RowHash:
			r.deactivateOthers(staged.Code, r.entries[i].ID)
			r.entries[i].IsActive = true
			result.Skipped++
		default:
			r.deactivateOthers(staged.Code, r.entries[i].ID)
			refreshed := domain.NewTariffEntryFromStaged(staged, version)
			refreshed.ID = r.entries[i].ID
			refreshed.IsActive = true
			r.entries[i] = refreshed
			result.Updated++
		}
	}
	return result, nil
}

func (r *fakeTariffRepo) DeactivateSuperseded(_ context.Context, importID uuid.UUID) (int64, error) {
	stagedCodes := r.staged.entries[importID]
	var count int64
	for i := range r.entries {
		if !r.entries[i].IsActive {
			continue
		}
		if _, ok := stagedCodes[r.entries[i].Code]; !ok {
			r.entries[i].IsActive = false
			count++
		}
	}
	return count, nil
}

type fakeExtraTaxRepo struct {
	rules []domain.ExtraTaxRule
}

func (r *fakeExtraTaxRepo) ListMatching(_ context.Context, codes []string, chapters []string) ([]domain.ExtraTaxRule, error) {
	codeSet := make(map[string]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}
	chapterSet := make(map[string]bool, len(chapters))
	for _, chapter := range chapters {
		chapterSet[chapter] = true
	}
	var out []domain.ExtraTaxRule
	for _, rule := range r.rules {
		switch rule.Scope {
		case domain.ExtraTaxScopeAll:
			out = append(out, rule)
		case domain.ExtraTaxScopeCode:
			if codeSet[rule.Code] {
				out = append(out, rule)
			}
		case domain.ExtraTaxScopeChapter:
			if chapterSet[rule.Chapter] {
				out = append(out, rule)
			}
		}
	}
	return out, nil
}

func seedActiveEntry(code, version, description string) domain.TariffEntry {
	staged := domain.StagedEntry{Code: code, Description: description, Unit: "kg", GeneralRate: "Free"}
	staged.DeriveHierarchy()
	staged.ComputeRowHash()
	entry := domain.NewTariffEntryFromStaged(staged, version)
	entry.CreatedAt = time.Now().UTC().Add(-24 * time.Hour)
	return entry
}
