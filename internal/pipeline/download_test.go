package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tariffops/htsflow/internal/domain"
)

func TestLimitedReaderAcceptsPayloadAtExactCeiling(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("abcd"), remaining: 4}

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll returned error for payload at the ceiling: %v", err)
	}
	if string(data) != "abcd" {
		t.Fatalf("read %q, want %q", data, "abcd")
	}

	// Subsequent reads keep reporting EOF, not a limit violation.
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read past end returned %v, want io.EOF", err)
	}
}

func TestLimitedReaderRejectsPayloadOverCeiling(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("abcde"), remaining: 4}

	_, err := io.ReadAll(r)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("ReadAll error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestLimitedReaderSmallBuffers(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("abcd"), remaining: 4}

	var got []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
	}
	if string(got) != "abcd" {
		t.Fatalf("read %q, want %q", got, "abcd")
	}
}

func TestDownloadAtExactSizeLimitSucceeds(t *testing.T) {
	h := newHarness(t, cleanPayload, WithDownloadLimits(time.Minute, int64(len(cleanPayload))))
	job := h.newJob(t, "2026-07-01")

	if err := h.orch.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	got := h.mustGet(t, job)
	if got.Status != domain.ImportStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
}
