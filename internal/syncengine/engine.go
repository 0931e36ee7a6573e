// Package syncengine reconciles external commit and pull request
// events against task state: idempotent upserts keyed on natural
// identity, task link materialization from parsed references, and
// automatic task completion for closing links.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"taskbridge/internal/activity"
	"taskbridge/internal/health"
	"taskbridge/internal/models"
	"taskbridge/internal/parser"
	"taskbridge/internal/taskrepo"
)

// ErrConnectionInactive is returned when an event arrives for a
// disconnected connection. Disconnection is terminal; nothing is
// processed.
var ErrConnectionInactive = errors.New("connection is disconnected")

// statsTimeout bounds one enrichment fetch.
const statsTimeout = 30 * time.Second

// StatsProvider fetches diff stats that webhook payloads omit, using
// the connection's own credential.
type StatsProvider interface {
	CommitStats(ctx context.Context, conn *models.Connection, sha string) (additions, deletions, changedFiles int, err error)
	PullRequestStats(ctx context.Context, conn *models.Connection, number int) (additions, deletions, changedFiles, reviewComments int, err error)
}

// Engine orchestrates ingestion. One Engine serves all connections;
// per-connection ordering comes from the Dispatcher routing all work
// for a connection through one worker.
type Engine struct {
	db         *gorm.DB
	tasks      taskrepo.Repository
	activities *activity.Publisher
	monitor    *health.Monitor
	logger     *slog.Logger

	// stats is optional; without it commits and PRs keep whatever
	// stats their payload carried.
	stats StatsProvider
}

// NewEngine wires the engine to its collaborators.
func NewEngine(db *gorm.DB, tasks taskrepo.Repository, activities *activity.Publisher, monitor *health.Monitor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:         db,
		tasks:      tasks,
		activities: activities,
		monitor:    monitor,
		logger:     logger,
	}
}

// SetStatsProvider enables diff-stat enrichment for payloads that
// arrive without stats.
func (e *Engine) SetStatsProvider(p StatsProvider) {
	e.stats = p
}

// IngestCommit upserts a commit by SHA and materializes task links
// from its message. Re-delivery of a SHA updates mutable fields
// (branch, stats, URL) but never authorship or message. Per-reference
// failures are isolated: one broken reference does not abort the rest.
func (e *Engine) IngestCommit(connectionID uint, payload CommitPayload) (*models.Commit, error) {
	conn, err := e.activeConnection(connectionID)
	if err != nil {
		return nil, err
	}
	if payload.SHA == "" {
		return nil, fmt.Errorf("commit payload missing SHA")
	}

	commit, err := e.upsertCommit(connectionID, payload)
	if err != nil {
		e.recordFailure(connectionID, err)
		return nil, err
	}

	enriched := true
	if e.stats != nil && commit.Additions == nil {
		enriched = e.enrichCommit(conn, commit)
	}

	refs := parser.Parse(commit.Message)
	e.applyReferences(conn, refs, &models.TaskLink{CommitID: &commit.ID}, true,
		fmt.Sprintf("commit %s", commit.ShortSHA()))

	// An enrichment failure already counted against connection health;
	// recording success here would reset the counter it just bumped.
	if enriched {
		if err := e.monitor.RecordSuccess(connectionID); err != nil {
			e.logger.Warn("recording sync success failed",
				"connection_id", connectionID,
				"error", err,
			)
		}
	}
	return commit, nil
}

// IngestPullRequest upserts a pull request by (connection, number) and
// materializes task links from its title and description. When the PR
// reaches a merged or closed-with-merge state, closing links trigger
// task completion; completion is idempotent, so duplicate merge
// deliveries cannot double-apply.
func (e *Engine) IngestPullRequest(connectionID uint, payload PullRequestPayload) (*models.PullRequest, error) {
	conn, err := e.activeConnection(connectionID)
	if err != nil {
		return nil, err
	}
	if payload.Number <= 0 {
		return nil, fmt.Errorf("pull request payload missing number")
	}

	pr, err := e.upsertPullRequest(connectionID, payload)
	if err != nil {
		e.recordFailure(connectionID, err)
		return nil, err
	}

	enriched := true
	if e.stats != nil && pr.Additions == nil {
		enriched = e.enrichPullRequest(conn, pr)
	}

	refs := parser.Parse(payload.Title + "\n\n" + payload.Description)
	// Closing links on a PR complete their tasks only once the PR is
	// merged; an open PR just records the intent.
	e.applyReferences(conn, refs, &models.TaskLink{PullRequestID: &pr.ID}, pr.Merged,
		fmt.Sprintf("PR #%d", pr.Number))

	if pr.Merged {
		e.reconcileMergedLinks(conn, pr)
	}

	if enriched {
		if err := e.monitor.RecordSuccess(connectionID); err != nil {
			e.logger.Warn("recording sync success failed",
				"connection_id", connectionID,
				"error", err,
			)
		}
	}
	return pr, nil
}

// RecordAPIFailure feeds a terminal API client failure into connection
// health. The enrichment path routes its fetch errors through here.
func (e *Engine) RecordAPIFailure(connectionID uint, err error) {
	e.recordFailure(connectionID, err)
}

// enrichCommit fetches diff stats for a commit whose payload carried
// none. Failures count against connection health; the commit itself
// stays ingested.
func (e *Engine) enrichCommit(conn *models.Connection, commit *models.Commit) bool {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	additions, deletions, changed, err := e.stats.CommitStats(ctx, conn, commit.SHA)
	if err != nil {
		e.logger.Warn("commit stats fetch failed",
			"connection_id", conn.ID,
			"sha", commit.ShortSHA(),
			"error", err,
		)
		e.RecordAPIFailure(conn.ID, err)
		return false
	}

	updates := map[string]interface{}{
		"additions":     additions,
		"deletions":     deletions,
		"changed_files": changed,
	}
	if err := e.db.Model(commit).Updates(updates).Error; err != nil {
		e.logger.Warn("storing commit stats failed",
			"connection_id", conn.ID,
			"sha", commit.ShortSHA(),
			"error", err,
		)
		return false
	}
	commit.Additions = &additions
	commit.Deletions = &deletions
	commit.ChangedFiles = &changed
	return true
}

// enrichPullRequest fetches diff stats for a pull request whose
// payload carried none.
func (e *Engine) enrichPullRequest(conn *models.Connection, pr *models.PullRequest) bool {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	additions, deletions, changed, reviewComments, err := e.stats.PullRequestStats(ctx, conn, pr.Number)
	if err != nil {
		e.logger.Warn("pull request stats fetch failed",
			"connection_id", conn.ID,
			"pr_number", pr.Number,
			"error", err,
		)
		e.RecordAPIFailure(conn.ID, err)
		return false
	}

	updates := map[string]interface{}{
		"additions":            additions,
		"deletions":            deletions,
		"changed_files":        changed,
		"review_comment_count": reviewComments,
	}
	if err := e.db.Model(pr).Updates(updates).Error; err != nil {
		e.logger.Warn("storing pull request stats failed",
			"connection_id", conn.ID,
			"pr_number", pr.Number,
			"error", err,
		)
		return false
	}
	pr.Additions = &additions
	pr.Deletions = &deletions
	pr.ChangedFiles = &changed
	pr.ReviewCommentCount = reviewComments
	return true
}

// activeConnection loads a connection and rejects disconnected ones.
func (e *Engine) activeConnection(connectionID uint) (*models.Connection, error) {
	var conn models.Connection
	if err := e.db.First(&conn, connectionID).Error; err != nil {
		return nil, fmt.Errorf("loading connection %d: %w", connectionID, err)
	}
	if conn.IsDisconnected() {
		return nil, ErrConnectionInactive
	}
	return &conn, nil
}

// upsertCommit inserts or updates a commit record keyed on SHA.
func (e *Engine) upsertCommit(connectionID uint, payload CommitPayload) (*models.Commit, error) {
	var commit models.Commit
	err := e.db.Where("sha = ?", payload.SHA).First(&commit).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		commit = models.Commit{
			SHA:            payload.SHA,
			ConnectionID:   connectionID,
			AuthorName:     payload.AuthorName,
			AuthorEmail:    payload.AuthorEmail,
			AuthorUsername: payload.AuthorUsername,
			CommitterName:  payload.CommitterName,
			CommitterEmail: payload.CommitterEmail,
			Message:        payload.Message,
			Branch:         payload.Branch,
			URL:            payload.URL,
			CommittedAt:    payload.Timestamp,
			Additions:      payload.Additions,
			Deletions:      payload.Deletions,
			ChangedFiles:   payload.ChangedFiles,
		}
		if err := e.db.Create(&commit).Error; err != nil {
			return nil, fmt.Errorf("creating commit %s: %w", payload.SHA, err)
		}
		return &commit, nil

	case err != nil:
		return nil, fmt.Errorf("looking up commit %s: %w", payload.SHA, err)
	}

	// Known SHA: only mutable fields change. Authorship and message
	// are immutable after first observation.
	updates := map[string]interface{}{}
	if payload.Branch != "" && payload.Branch != commit.Branch {
		updates["branch"] = payload.Branch
	}
	if payload.URL != "" && payload.URL != commit.URL {
		updates["url"] = payload.URL
	}
	if payload.Additions != nil {
		updates["additions"] = payload.Additions
	}
	if payload.Deletions != nil {
		updates["deletions"] = payload.Deletions
	}
	if payload.ChangedFiles != nil {
		updates["changed_files"] = payload.ChangedFiles
	}
	if len(updates) > 0 {
		if err := e.db.Model(&commit).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("updating commit %s: %w", payload.SHA, err)
		}
	}
	return &commit, nil
}

// upsertPullRequest inserts or updates a pull request keyed on
// (connection, number).
func (e *Engine) upsertPullRequest(connectionID uint, payload PullRequestPayload) (*models.PullRequest, error) {
	status := payload.Status
	merged := payload.Merged
	if merged {
		// Merged implies closed regardless of what the event says.
		status = models.PRClosed
	}

	var pr models.PullRequest
	err := e.db.Where("connection_id = ? AND number = ?", connectionID, payload.Number).First(&pr).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pr = models.PullRequest{
			ConnectionID:       connectionID,
			Number:             payload.Number,
			Title:              payload.Title,
			Description:        payload.Description,
			AuthorUsername:     payload.AuthorUsername,
			HeadBranch:         payload.HeadBranch,
			BaseBranch:         payload.BaseBranch,
			Status:             status,
			Merged:             merged,
			URL:                payload.URL,
			OpenedAt:           payload.OpenedAt,
			MergedAt:           payload.MergedAt,
			Additions:          payload.Additions,
			Deletions:          payload.Deletions,
			ChangedFiles:       payload.ChangedFiles,
			ReviewCommentCount: payload.ReviewCommentCount,
		}
		if pr.Merged && pr.MergedAt == nil {
			now := time.Now()
			pr.MergedAt = &now
		}
		if err := e.db.Create(&pr).Error; err != nil {
			return nil, fmt.Errorf("creating PR #%d: %w", payload.Number, err)
		}
		return &pr, nil

	case err != nil:
		return nil, fmt.Errorf("looking up PR #%d: %w", payload.Number, err)
	}

	// Merged implies closed, permanently: a stale open delivery
	// arriving after the merge must not reopen the record.
	if pr.Merged {
		status = models.PRClosed
	}

	updates := map[string]interface{}{
		"title":                payload.Title,
		"description":          payload.Description,
		"status":               status,
		"review_comment_count": payload.ReviewCommentCount,
	}
	// Merged never goes back to false on a later stale delivery.
	if merged && !pr.Merged {
		updates["merged"] = true
		mergedAt := payload.MergedAt
		if mergedAt == nil {
			now := time.Now()
			mergedAt = &now
		}
		updates["merged_at"] = mergedAt
	}
	if payload.HeadBranch != "" {
		updates["head_branch"] = payload.HeadBranch
	}
	if payload.BaseBranch != "" {
		updates["base_branch"] = payload.BaseBranch
	}
	if payload.Additions != nil {
		updates["additions"] = payload.Additions
	}
	if payload.Deletions != nil {
		updates["deletions"] = payload.Deletions
	}
	if payload.ChangedFiles != nil {
		updates["changed_files"] = payload.ChangedFiles
	}
	if err := e.db.Model(&pr).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating PR #%d: %w", payload.Number, err)
	}

	if err := e.db.Where("connection_id = ? AND number = ?", connectionID, payload.Number).First(&pr).Error; err != nil {
		return nil, fmt.Errorf("reloading PR #%d: %w", payload.Number, err)
	}
	return &pr, nil
}

// applyReferences materializes parsed references as task links on the
// template's source entity (commit or PR). completeNow controls
// whether closing links trigger task completion immediately. Each
// reference is handled independently; failures are logged and the
// rest proceed.
func (e *Engine) applyReferences(conn *models.Connection, refs []parser.Reference, template *models.TaskLink, completeNow bool, source string) {
	completed := make(map[uint]bool)

	for _, ref := range refs {
		link := models.TaskLink{
			CommitID:         template.CommitID,
			PullRequestID:    template.PullRequestID,
			TaskID:           ref.TaskID,
			LinkType:         ref.LinkType,
			ReferenceText:    ref.Text,
			AutoStatusUpdate: models.ClosesTask(ref.LinkType),
		}

		created, err := e.upsertLink(&link)
		if err != nil {
			e.logger.Warn("task link creation failed",
				"connection_id", conn.ID,
				"task_id", ref.TaskID,
				"link_type", ref.LinkType,
				"source", source,
				"error", err,
			)
			continue
		}
		if created {
			taskID := ref.TaskID
			e.activities.Publish(models.ActivityLinkCreated, conn.ID, &taskID,
				fmt.Sprintf("%s linked task #%d (%s)", source, ref.TaskID, ref.LinkType))
		}

		if models.ClosesTask(ref.LinkType) && !completed[ref.TaskID] {
			if completeNow {
				if e.completeTask(conn, ref.TaskID, source) {
					completed[ref.TaskID] = true
				}
			} else if created {
				// An open pull request with a closing reference signals
				// work in flight; the task moves to in_progress until
				// the merge completes it.
				e.startTask(conn, ref.TaskID, source)
			}
		}
	}
}

// startTask moves an open task to in_progress. Tasks already past open
// are left alone.
func (e *Engine) startTask(conn *models.Connection, taskID uint, source string) {
	task, err := e.tasks.FindTask(taskID)
	if errors.Is(err, taskrepo.ErrTaskNotFound) {
		e.logger.Debug("referenced task does not exist",
			"connection_id", conn.ID,
			"task_id", taskID,
			"source", source,
		)
		return
	}
	if err != nil {
		e.logger.Warn("task lookup failed",
			"connection_id", conn.ID,
			"task_id", taskID,
			"error", err,
		)
		return
	}
	if task.Status != models.StatusOpen {
		return
	}
	if err := e.tasks.TransitionStatus(taskID, models.StatusInProgress); err != nil {
		e.logger.Warn("task status transition failed",
			"connection_id", conn.ID,
			"task_id", taskID,
			"error", err,
		)
		return
	}
	e.activities.Publish(models.ActivityStatusChanged, conn.ID, &taskID,
		fmt.Sprintf("%s moved task #%d to in_progress", source, taskID))
}

// upsertLink creates a link unless the same (source, task, type)
// combination already exists. Returns whether a new row was created.
func (e *Engine) upsertLink(link *models.TaskLink) (bool, error) {
	query := e.db.Where("task_id = ? AND link_type = ?", link.TaskID, link.LinkType)
	if link.CommitID != nil {
		query = query.Where("commit_id = ?", *link.CommitID)
	} else {
		query = query.Where("pull_request_id = ?", *link.PullRequestID)
	}

	var existing models.TaskLink
	err := query.First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if err := e.db.Create(link).Error; err != nil {
		return false, err
	}
	return true, nil
}

// completeTask marks the referenced task done if it exists and is not
// already done. Returns true when the task ended up done (including
// the already-done no-op case).
func (e *Engine) completeTask(conn *models.Connection, taskID uint, source string) bool {
	task, err := e.tasks.FindTask(taskID)
	if errors.Is(err, taskrepo.ErrTaskNotFound) {
		e.logger.Debug("referenced task does not exist",
			"connection_id", conn.ID,
			"task_id", taskID,
			"source", source,
		)
		return false
	}
	if err != nil {
		e.logger.Warn("task lookup failed",
			"connection_id", conn.ID,
			"task_id", taskID,
			"error", err,
		)
		return false
	}
	if task.IsDone() {
		return true
	}

	if err := e.tasks.CompleteTask(taskID); err != nil {
		e.logger.Warn("task completion failed",
			"connection_id", conn.ID,
			"task_id", taskID,
			"error", err,
		)
		return false
	}

	id := taskID
	e.activities.Publish(models.ActivityTaskCompleted, conn.ID, &id,
		fmt.Sprintf("task #%d completed by %s", taskID, source))
	e.logger.Info("task completed",
		"connection_id", conn.ID,
		"task_id", taskID,
		"source", source,
	)
	return true
}

// reconcileMergedLinks re-evaluates the existing closing links of a
// merged PR and completes any task not yet done. Safe to run on every
// merged delivery.
func (e *Engine) reconcileMergedLinks(conn *models.Connection, pr *models.PullRequest) {
	var links []models.TaskLink
	err := e.db.Where("pull_request_id = ? AND link_type IN ?",
		pr.ID, []string{models.LinkCloses, models.LinkFixes, models.LinkResolves}).
		Find(&links).Error
	if err != nil {
		e.logger.Warn("loading PR links for merge reconciliation failed",
			"connection_id", conn.ID,
			"pr_number", pr.Number,
			"error", err,
		)
		return
	}

	seen := make(map[uint]bool)
	for _, link := range links {
		if seen[link.TaskID] {
			continue
		}
		seen[link.TaskID] = true
		e.completeTask(conn, link.TaskID, fmt.Sprintf("merged PR #%d", pr.Number))
	}
}

// recordFailure feeds a terminal ingestion failure into health
// tracking.
func (e *Engine) recordFailure(connectionID uint, cause error) {
	if err := e.monitor.RecordFailure(connectionID, cause.Error()); err != nil {
		e.logger.Warn("recording sync failure failed",
			"connection_id", connectionID,
			"error", err,
		)
	}
}
