package orchestrator

import (
	"context"
	"time"

	"github.com/hrygo/mnemo/mcos/internal/strutil"
	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/summarize"
	"github.com/hrygo/mnemo/mcos/userprofile"
)

// derivedSummaryRunes caps the per-turn derived summary.
const derivedSummaryRunes = 120

// runSummarize advances the rolling summary when enough uncovered turns have
// accumulated (or enough time has passed), or unconditionally when forced.
// Duplicate runs for the same chat are skipped.
func (o *Orchestrator) runSummarize(ctx context.Context, userID, chatID string, force bool) error {
	key := chatKey(userID, chatID)

	o.mu.Lock()
	if o.inflightSummarize[key] && !force {
		o.mu.Unlock()
		return nil
	}
	o.inflightSummarize[key] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflightSummarize, key)
		o.mu.Unlock()
	}()

	o.chatJobs.Lock(key)
	defer o.chatJobs.Unlock(key)

	snap, ok := o.sessions.Snapshot(userID, chatID)
	if !ok {
		return nil
	}
	uncovered, existing := o.sessions.UncoveredTurns(userID, chatID)
	if len(uncovered) == 0 {
		return nil
	}
	if !force && !o.summaryDue(len(uncovered), snap.LastSummaryAt) {
		return nil
	}

	sum, err := o.summarizer.Summarize(ctx, &summarize.Request{
		Existing: existing,
		Turns:    uncovered,
	})
	if err != nil {
		return err
	}
	log := logging.FromContext(ctx)
	if err := o.sessions.UpdateSummary(userID, chatID, *sum); err != nil {
		// A concurrent run already covered these turns; nothing left to do.
		log.Debug("summary update rejected", "chat_id", chatID, "error", err)
		return nil
	}
	for _, t := range uncovered {
		o.sessions.SetDerivedSummary(userID, chatID, t.ID, strutil.Truncate(t.UserText, derivedSummaryRunes))
	}

	// Keeping the summary searchable is best-effort; the next run replaces
	// the record either way.
	if err := o.vectors.UpsertSummary(ctx, userID, chatID, *sum); err != nil {
		log.Warn("summary vector upsert failed", "chat_id", chatID, "error", err)
	}
	log.Info("rolling summary advanced",
		"user_id", userID, "chat_id", chatID,
		"covered_through", sum.CoveredThroughSeq, "source", sum.Source)
	return nil
}

func (o *Orchestrator) summaryDue(uncovered int, lastSummaryAt time.Time) bool {
	if uncovered >= o.cfg.SummaryTrigger {
		return true
	}
	return !lastSummaryAt.IsZero() && time.Since(lastSummaryAt) >= o.cfg.SummaryInterval
}

// runProfileExtract asks the model for profile facts over a recent window of
// turns and merges them. Malformed model output drops the extraction; profile
// state never regresses from a bad response.
func (o *Orchestrator) runProfileExtract(ctx context.Context, userID, chatID string) error {
	snap, ok := o.sessions.Snapshot(userID, chatID)
	if !ok || len(snap.Turns) == 0 {
		return nil
	}
	lastSeq := snap.NextSeq - 1
	if lastSeq-snap.LastExtractSeq < o.cfg.ExtractEvery {
		return nil
	}

	window := snap.Turns
	if len(window) > o.cfg.ExtractWindow {
		window = window[len(window)-o.cfg.ExtractWindow:]
	}

	raw, err := o.adapter.Summarize(ctx, userprofile.BuildExtractionPrompt(window))
	if err != nil {
		return err
	}
	ext, err := userprofile.ParseExtraction(raw)
	if err != nil {
		logging.FromContext(ctx).Warn("dropping malformed profile extraction", "user_id", userID, "chat_id", chatID, "error", err)
		o.sessions.MarkExtracted(userID, chatID, lastSeq)
		return nil
	}
	ext.ChatID = chatID
	ext.TurnID = window[len(window)-1].ID

	if !ext.IsEmpty() {
		if err := o.profiles.Merge(ctx, userID, ext); err != nil {
			return err
		}
		if err := o.reembedProfile(ctx, userID); err != nil {
			logging.FromContext(ctx).Warn("profile vector upsert failed", "user_id", userID, "error", err)
		}
	}
	o.sessions.MarkExtracted(userID, chatID, lastSeq)
	return nil
}

// reembedProfile refreshes the profile's vector record from the merged doc.
func (o *Orchestrator) reembedProfile(ctx context.Context, userID string) error {
	p, err := o.profiles.Get(ctx, userID)
	if err != nil {
		return err
	}
	text := userprofile.RenderText(p)
	if text == "" {
		return nil
	}
	return o.vectors.UpsertProfile(ctx, userID, text)
}

// runUploadJob is the queued path for vector upload. When the cooldown has
// not elapsed the job re-enqueues itself for when it will have, so a burst
// of turns collapses into one batched write.
func (o *Orchestrator) runUploadJob(ctx context.Context, j *job) error {
	if remaining := o.uploads.CooldownRemaining(j.userID, j.chatID); remaining > 0 {
		o.enqueueAfter(j, remaining)
		return nil
	}
	return o.runUpload(ctx, j.userID, j.chatID, false)
}

// runUpload pushes every not-yet-uploaded resident turn to the vector store.
// force skips the cooldown, for drain and shutdown paths.
func (o *Orchestrator) runUpload(ctx context.Context, userID, chatID string, force bool) error {
	if !force && !o.uploads.CooldownExpired(userID, chatID) {
		return nil
	}

	key := chatKey(userID, chatID)
	o.chatJobs.Lock(key)
	defer o.chatJobs.Unlock(key)

	turns := o.sessions.Turns(userID, chatID)
	if len(turns) == 0 {
		return nil
	}
	ids := make([]string, len(turns))
	byID := make(map[string]memory.Turn, len(turns))
	for i, t := range turns {
		ids[i] = t.ID
		byID[t.ID] = t
	}

	pending := o.uploads.Unuploaded(ctx, userID, chatID, ids)
	if len(pending) == 0 {
		return nil
	}
	batch := make([]memory.Turn, 0, len(pending))
	for _, id := range pending {
		batch = append(batch, byID[id])
	}

	if err := o.vectors.UpsertTurns(ctx, batch); err != nil {
		return err
	}
	o.uploads.MarkUploaded(userID, chatID, pending)
	o.sessions.MarkUploaded(userID, chatID, time.Now())
	logging.FromContext(ctx).Info("turns uploaded", "user_id", userID, "chat_id", chatID, "count", len(batch))
	return nil
}
