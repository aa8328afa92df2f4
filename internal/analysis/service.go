package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
)

// Service runs analysis jobs: it loads the archived session, calls the
// external analyzer, and stores the report under analyses/{sessionId}.json.
type Service struct {
	repo     *Repo
	archiver *archive.Archiver
	objects  *objstore.Store
	analyzer Analyzer
}

func NewService(repo *Repo, archiver *archive.Archiver, objects *objstore.Store, analyzer Analyzer) *Service {
	return &Service{repo: repo, archiver: archiver, objects: objects, analyzer: analyzer}
}

func reportKey(sessionID string) string { return "analyses/" + sessionID + ".json" }

// Run executes one job to completion, recording the outcome on the job row.
// The returned error mirrors what was recorded so the caller can nack.
func (s *Service) Run(ctx context.Context, jobID string) error {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	session, err := s.archiver.Get(ctx, job.SessionID)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	report, err := s.analyzer.Analyze(ctx, session.Messages)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	body, err := json.Marshal(report)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return fmt.Errorf("analysis: encode report for %s: %w", job.SessionID, err)
	}
	key := reportKey(job.SessionID)
	if _, err := s.objects.Put(ctx, key, body); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	return s.repo.MarkJobSucceeded(ctx, jobID, key)
}

// Report loads a stored analysis report for a session.
func (s *Service) Report(ctx context.Context, sessionID string) (Report, error) {
	body, _, err := s.objects.Get(ctx, reportKey(sessionID))
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return Report{}, fmt.Errorf("analysis: decode report for %s: %w", sessionID, err)
	}
	return r, nil
}
