package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/foxseedlab/teleconsult/internal/backend"
	"github.com/foxseedlab/teleconsult/internal/notify"
	"github.com/foxseedlab/teleconsult/internal/repository"
	"github.com/foxseedlab/teleconsult/internal/transcript"
)

// openJournal records the call locally so entries survive a failed flush. A
// call left running by an earlier process is closed first.
func (o *Orchestrator) openJournal(ctx context.Context, appointmentID string, cred backend.JoinCredential) {
	if o.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	orphan, err := o.journal.GetRunningCallByAppointment(ctx, appointmentID)
	if err != nil {
		slog.Warn("failed to look up running call", "appointment_id", appointmentID, "error", err)
	}
	if orphan != nil {
		if err := o.journal.CompleteCall(ctx, repository.CompleteCallInput{
			CallID:     orphan.ID,
			EndedAt:    o.now(),
			Status:     repository.CallStatusFailed,
			StopReason: stopReasonOrphaned,
			EntryCount: orphan.EntryCount,
		}); err != nil {
			slog.Warn("failed to close orphaned call", "call_id", orphan.ID, "error", err)
		} else {
			slog.Info("closed orphaned call", "call_id", orphan.ID, "video_call_id", orphan.VideoCallID)
		}
	}

	c, err := o.journal.CreateCall(ctx, repository.CreateCallInput{
		AppointmentID: appointmentID,
		VideoCallID:   cred.VideoCallID,
		ChannelName:   cred.ChannelName,
		LocalIdentity: cred.LocalIdentity,
		StartedAt:     o.now(),
	})
	if err != nil {
		slog.Warn("failed to journal call", "appointment_id", appointmentID, "error", err)
		return
	}
	o.mu.Lock()
	o.journalCallID = c.ID
	o.mu.Unlock()
}

func (o *Orchestrator) journalEntry(e transcript.Entry) {
	index := int(o.entryIndex.Add(1) - 1)
	o.mu.Lock()
	callID := o.journalCallID
	o.mu.Unlock()
	if o.journal == nil || callID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := o.journal.InsertEntry(ctx, repository.InsertEntryInput{
		CallID:           callID,
		EntryIndex:       index,
		TimestampSeconds: e.TimestampSeconds,
		Speaker:          string(e.Speaker),
		Text:             e.Text,
	}); err != nil {
		slog.Warn("failed to journal transcript entry", "call_id", callID, "entry_index", index, "error", err)
	}
}

// finalize ends the call on the backend with the transcript, then records the
// outcome in the journal, the webhook and the notifier. Every step is best
// effort; the transcript stays in the journal when the backend rejects it.
func (o *Orchestrator) finalize(entries []transcript.Entry, endedAt time.Time, reason string) {
	defer o.finish()

	o.mu.Lock()
	cred := o.credential
	appointmentID := o.appointmentID
	journalCallID := o.journalCallID
	startedAt := o.joinedAt
	localIdentity := o.localIdentity
	failed := o.state == StateFailed
	o.mu.Unlock()
	wasActive := !startedAt.IsZero()
	if !wasActive {
		startedAt = endedAt
	}
	if localIdentity == "" {
		localIdentity = cred.LocalIdentity
	}
	callID := journalCallID
	if callID == "" {
		callID = o.attemptID
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.flushTimeout)
	defer cancel()

	flushed := true
	if err := o.backend.EndCall(ctx, cred.VideoCallID, entries); err != nil {
		flushed = false
		o.metrics.IncTranscriptFlushFailures()
		slog.Error("failed to flush transcript", "appointment_id", appointmentID, "video_call_id", cred.VideoCallID, "entry_count", len(entries), "error", err)
	} else {
		slog.Info("transcript flushed", "appointment_id", appointmentID, "video_call_id", cred.VideoCallID, "entry_count", len(entries))
	}

	meta := transcript.CallMetadata{
		CallID:        callID,
		AppointmentID: appointmentID,
		VideoCallID:   cred.VideoCallID,
		ChannelName:   cred.ChannelName,
		LocalIdentity: localIdentity,
	}

	if o.journal != nil && journalCallID != "" {
		status := repository.CallStatusCompleted
		if failed || !wasActive {
			status = repository.CallStatusFailed
		}
		if err := o.journal.CompleteCall(ctx, repository.CompleteCallInput{
			CallID:     journalCallID,
			EndedAt:    endedAt,
			Status:     status,
			StopReason: reason,
			EntryCount: len(entries),
			Flushed:    flushed,
		}); err != nil {
			slog.Warn("failed to complete journaled call", "call_id", journalCallID, "error", err)
		}
	}

	if failed || !wasActive {
		return
	}

	if o.webhook != nil {
		payload := transcript.BuildWebhookPayload(meta, startedAt, endedAt, o.timezone, o.location, entries)
		if err := o.webhook.SendTranscript(ctx, payload); err != nil {
			slog.Warn("failed to send transcript webhook", "video_call_id", cred.VideoCallID, "error", err)
		}
	}

	var text []byte
	if len(entries) > 0 {
		text = transcript.BuildText(meta, startedAt, endedAt, o.timezone, o.location, entries)
	}
	if err := o.notifier.CallEnded(ctx, notify.CallEnded{
		AppointmentID:      appointmentID,
		VideoCallID:        cred.VideoCallID,
		StartedAt:          startedAt,
		EndedAt:            endedAt,
		EntryCount:         len(entries),
		Flushed:            flushed,
		TranscriptFilename: transcriptFilename(cred.VideoCallID),
		Transcript:         text,
	}); err != nil {
		slog.Warn("failed to send call ended notification", "video_call_id", cred.VideoCallID, "error", err)
	}
}
