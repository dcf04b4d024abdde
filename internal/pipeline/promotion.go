package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/tariffops/htsflow/internal/domain"
)

// runPromotion copies staged entries into the live dataset batch by batch.
// Each batch commits in its own transaction and the checkpoint cursor
// advances only after the commit, so a crash mid-stage resumes at the first
// unpromoted batch. Row hashes make replayed batches no-ops.
func (o *Orchestrator) runPromotion(ctx context.Context, job *domain.ImportJob, cp domain.Checkpoint) (domain.Checkpoint, error) {
	if cp.Stage != domain.StageProcessing {
		cp = cp.AdvanceTo(domain.StageProcessing)
	}
	if cp.TotalBatches == 0 {
		total, err := o.staged.CountByImport(ctx, job.ID)
		if err != nil {
			return cp, err
		}
		cp.TotalBatches = int(math.Ceil(float64(total) / float64(o.batchSize)))
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf("promoting %d entries in %d batches", total, cp.TotalBatches))
	}

	for {
		page, err := o.staged.ListPage(ctx, job.ID, cp.LastProcessedPartitionKey, o.batchSize)
		if err != nil {
			return cp, err
		}
		if len(page) == 0 {
			break
		}

		result, err := o.tariffs.PromoteBatch(ctx, job.SourceVersion, page)
		if err != nil {
			// A failed batch does not abort the import: the rows are counted
			// as failed, logged for operator follow-up, and the cursor moves
			// on so one poison batch cannot wedge the job forever.
			o.appendLog(ctx, job.ID, fmt.Sprintf(
				"batch %d failed (%d rows, codes %s..%s): %v",
				cp.ProcessedBatches+1, len(page), page[0].Code, page[len(page)-1].Code, err,
			))
			job.Counters.FailedEntries += len(page)
		} else {
			job.Counters.ImportedEntries += result.Inserted
			job.Counters.UpdatedEntries += result.Updated
			job.Counters.SkippedEntries += result.Skipped
		}

		cp.ProcessedBatches++
		cp.ProcessedRecords += len(page)
		cp.LastProcessedPartitionKey = page[len(page)-1].Code
		if err := o.saveCheckpoint(ctx, job, cp); err != nil {
			return cp, err
		}
		if err := o.jobs.UpdateCounters(ctx, job.ID, job.Counters); err != nil {
			return cp, err
		}
		o.appendLog(ctx, job.ID, fmt.Sprintf(
			"promoted batch %d/%d (%d records so far)",
			cp.ProcessedBatches, cp.TotalBatches, cp.ProcessedRecords,
		))
	}

	deactivated, err := o.tariffs.DeactivateSuperseded(ctx, job.ID)
	if err != nil {
		return cp, err
	}
	if deactivated > 0 {
		o.appendLog(ctx, job.ID, fmt.Sprintf("deactivated %d superseded entries", deactivated))
	}

	next := cp.AdvanceTo(domain.StageCompleted)
	if err := o.saveCheckpoint(ctx, job, next); err != nil {
		return cp, err
	}

	return next, nil
}
