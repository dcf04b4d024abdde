package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/tariffops/htsflow/internal/domain"

	"github.com/google/uuid"
)

// runDiffing classifies every staged entry against the live dataset and
// records the codes that went missing. The stage always recomputes from
// scratch: prior records are deleted so a resumed job produces one complete,
// consistent diff set.
func (o *Orchestrator) runDiffing(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) (domain.Checkpoint, error) {
	cp = cp.AdvanceTo(domain.StageDiffing)
	if err := o.saveCheckpoint(ctx, job, cp); err != nil {
		return cp, err
	}

	if err := o.diffs.DeleteByImport(ctx, job.ID); err != nil {
		return cp, err
	}

	afterCode := ""
	for {
		page, err := o.staged.ListPage(ctx, job.ID, afterCode, o.pageSize)
		if err != nil {
			return cp, err
		}
		if len(page) == 0 {
			break
		}

		records, err := o.diffPage(ctx, job.ID, page)
		if err != nil {
			return cp, err
		}
		if err := o.diffs.InsertBatch(ctx, records); err != nil {
			return cp, err
		}

		afterCode = page[len(page)-1].Code
		cp.ProcessedBatches++
		cp.ProcessedRecords += len(page)
		cp.LastProcessedPartitionKey = afterCode
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
	}

	removed, err := o.diffRemoved(ctx, job)
	if err != nil {
		return cp, err
	}
	if len(removed) > 0 {
		if err := o.diffs.InsertBatch(ctx, removed); err != nil {
			return cp, err
		}
	}

	counts, err := o.diffs.CountByType(ctx, job.ID)
	if err != nil {
		return cp, err
	}
	o.appendLog(ctx, job.ID, fmt.Sprintf(
		"diff complete: %d added, %d changed, %d removed, %d unchanged",
		counts[domain.DiffAdded], counts[domain.DiffChanged],
		counts[domain.DiffRemoved], counts[domain.DiffUnchanged],
	))

	next := cp.AdvanceTo(domain.StageProcessing)
	if err := o.saveCheckpoint(ctx, job, next); err != nil {
		return cp, err
	}

	return next, nil
}

// diffPage classifies one page of staged entries. Live rows and surcharge
// rules for the whole page are fetched up front so each entry is classified
// without further round trips.
func (o *Orchestrator) diffPage(ctx context.Context, importID uuid.UUID, page []domain.StagedEntry) ([]domain.DiffRecord, error) {
	codes := make([]string, 0, len(page))
	chapterSet := make(map[string]struct{}, 8)
	for _, entry := range page {
		codes = append(codes, entry.Code)
		if entry.Chapter != "" {
			chapterSet[entry.Chapter] = struct{}{}
		}
	}
	chapters := make([]string, 0, len(chapterSet))
	for chapter := range chapterSet {
		chapters = append(chapters, chapter)
	}
	sort.Strings(chapters)

	live, err := o.tariffs.ListActiveByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	liveByCode := make(map[string]domain.TariffEntry, len(live))
	for _, entry := range live {
		liveByCode[entry.Code] = entry
	}

	rules, err := o.extraTaxes.ListMatching(ctx, codes, chapters)
	if err != nil {
		return nil, err
	}

	records := make([]domain.DiffRecord, 0, len(page))
	for _, staged := range page {
		taxes := matchingRules(rules, staged.Code)
		current, exists := liveByCode[staged.Code]

		var record domain.DiffRecord
		switch {
		case !exists:
			record = domain.NewDiffRecord(importID, staged.Code, domain.DiffAdded, domain.DiffSummary{
				After:      staged.BusinessFields(),
				ExtraTaxes: taxes,
			})
		default:
			changes := domain.CompareBusinessFields(current.BusinessFields(), staged.BusinessFields())
			if len(changes) > 0 {
				record = domain.NewDiffRecord(importID, staged.Code, domain.DiffChanged, domain.DiffSummary{
					Before:     current.BusinessFields(),
					After:      staged.BusinessFields(),
					Changes:    changes,
					ExtraTaxes: taxes,
				})
			} else {
				record = domain.NewDiffRecord(importID, staged.Code, domain.DiffUnchanged, domain.DiffSummary{
					ExtraTaxes: taxes,
				})
			}
			currentID := current.ID
			record.CurrentEntryID = &currentID
		}
		stagedID := staged.ID
		record.StageEntryID = &stagedID
		records = append(records, record)
	}

	return records, nil
}

// diffRemoved records every active code absent from the staging table.
func (o *Orchestrator) diffRemoved(ctx context.Context, job *domain.ImportJob) ([]domain.DiffRecord, error) {
	missing, err := o.tariffs.ListActiveNotStaged(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(missing))
	chapterSet := make(map[string]struct{}, 8)
	for _, entry := range missing {
		codes = append(codes, entry.Code)
		if entry.Chapter != "" {
			chapterSet[entry.Chapter] = struct{}{}
		}
	}
	chapters := make([]string, 0, len(chapterSet))
	for chapter := range chapterSet {
		chapters = append(chapters, chapter)
	}
	sort.Strings(chapters)

	rules, err := o.extraTaxes.ListMatching(ctx, codes, chapters)
	if err != nil {
		return nil, err
	}

	records := make([]domain.DiffRecord, 0, len(missing))
	for _, entry := range missing {
		record := domain.NewDiffRecord(job.ID, entry.Code, domain.DiffRemoved, domain.DiffSummary{
			Before:     entry.BusinessFields(),
			ExtraTaxes: matchingRules(rules, entry.Code),
		})
		currentID := entry.ID
		record.CurrentEntryID = &currentID
		records = append(records, record)
	}

	return records, nil
}

func matchingRules(rules []domain.ExtraTaxRule, code string) []domain.ExtraTaxRule {
	var matched []domain.ExtraTaxRule
	for _, rule := range rules {
		if rule.Matches(code) {
			matched = append(matched, rule)
		}
	}
	return matched
}
