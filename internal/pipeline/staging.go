package pipeline

import (
	"context"
	"fmt"

	"github.com/tariffops/htsflow/internal/domain"
)

// runStaging normalizes the downloaded payload into staged entries. Batches
// upsert on (importID, code), so a crash mid-stage replays the remaining
// batches without duplicating rows.
func (o *Orchestrator) runStaging(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) (domain.Checkpoint, error) {
	reader, err := o.blobs.Open(cp.BlobKey)
	if err != nil {
		return cp, fmt.Errorf("failed to open staged blob %s: %w", cp.BlobKey, err)
	}
	defer reader.Close()

	records, err := ParseSourceRecords(reader)
	if err != nil {
		return cp, err
	}

	if cp.Stage != domain.StageStaging {
		// Entering staging fresh: clear any partial staging from a prior
		// attempt of an earlier pipeline shape.
		deleted, err := o.staged.DeleteByImport(ctx, job.ID)
		if err != nil {
			return cp, err
		}
		if deleted > 0 {
			o.appendLog(ctx, job.ID, fmt.Sprintf("re-staging: removed %d previously staged entries", deleted))
		}

		cp = cp.AdvanceTo(domain.StageStaging)
		cp.TotalBatches = (len(records) + o.batchSize - 1) / o.batchSize
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf("staging %d source records in %d batches", len(records), cp.TotalBatches))
	}

	skipped := 0
	for offset := cp.ProcessedRecords; offset < len(records); offset += o.batchSize {
		end := offset + o.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[offset:end]

		entries := make([]domain.StagedEntry, 0, len(batch))
		lastPartition := cp.LastProcessedPartitionKey
		for _, record := range batch {
			entry, ok := buildStagedEntry(job, record)
			if !ok {
				skipped++
				continue
			}
			entries = append(entries, entry)
			lastPartition = record.PartitionKey
		}

		if err := o.staged.UpsertBatch(ctx, entries); err != nil {
			return cp, err
		}

		cp.ProcessedBatches++
		cp.ProcessedRecords = end
		cp.LastProcessedPartitionKey = lastPartition
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf("staged batch %d/%d (%d records)", cp.ProcessedBatches, cp.TotalBatches, len(entries)))
	}

	if skipped > 0 {
		o.appendLog(ctx, job.ID, fmt.Sprintf("skipped %d source records with no HTS number", skipped))
	}

	total, err := o.staged.CountByImport(ctx, job.ID)
	if err != nil {
		return cp, err
	}
	job.Counters.TotalEntries = total
	if err := o.jobs.UpdateCounters(ctx, job.ID, job.Counters); err != nil {
		return cp, err
	}

	next := cp.AdvanceTo(domain.StageValidating)
	if err := o.saveCheckpoint(ctx, job, next); err != nil {
		return cp, err
	}
	o.appendLog(ctx, job.ID, fmt.Sprintf("staging complete: %d entries", total))

	return next, nil
}

// buildStagedEntry normalizes one source record. Records with no resolvable
// code are dropped (reported as skips, not errors).
func buildStagedEntry(job *domain.ImportJob, record SourceRecord) (domain.StagedEntry, bool) {
	code := firstString(record.Fields, codeAliases)
	if code == "" {
		return domain.StagedEntry{}, false
	}

	entry := domain.NewStagedEntry(job.ID, code, record.Raw)
	if chapter := firstString(record.Fields, chapterAliases); chapter != "" {
		entry.Chapter = chapter
	} else if record.PartitionKey != "" {
		entry.Chapter = record.PartitionKey
	}
	entry.DeriveHierarchy()

	entry.Description = firstString(record.Fields, descriptionAliases)
	entry.Unit = firstString(record.Fields, unitAliases)
	entry.GeneralRate = firstString(record.Fields, generalAliases)
	entry.SpecialRate = firstString(record.Fields, specialAliases)
	entry.OtherRate = firstString(record.Fields, otherAliases)
	entry.Indent = firstInt(record.Fields, indentAliases)

	entry.Normalized = entry.BusinessFields()
	entry.ComputeRowHash()

	return entry, true
}
