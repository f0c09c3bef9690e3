package orchestrator

import (
	"context"
	"errors"
	"time"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/service/extract"
	"live-transcription-service/internal/service/gate"
	"live-transcription-service/internal/service/segment"
	"live-transcription-service/internal/service/transcript"
)

// ingest is the session's single ingestion goroutine. It returns after the
// session has been finalized.
func (o *Orchestrator) ingest(r *run) {
	defer o.active.Done()

	for frag := range r.in {
		seg, err := r.seg.Append(frag)
		if err != nil {
			r.logger.Error().Err(err).Uint64("seq", frag.Seq).Msg("Fragment dropped")
			continue
		}
		if seg != nil {
			o.submit(r, seg)
		}
	}

	if tail := r.seg.Close(); tail != nil {
		o.submitTerminal(r, tail)
	}
	o.finalize(r)
}

// submitTerminal probes the last segment and discards it when it carries
// no measurable audio.
func (o *Orchestrator) submitTerminal(r *run, seg *segment.Segment) {
	ctx, cancel := context.WithTimeout(r.ctx, o.cfg.ProbeTimeout)
	d, err := o.deps.Prober.Probe(ctx, *seg)
	cancel()

	logger := logging.WithSegment(r.sess.ID, seg.Index)
	switch {
	case err != nil:
		o.deps.Metrics.RecordSegmentDiscarded("unmeasurable")
		logger.Info().Err(err).Int("bytes", len(seg.Data)).Msg("Terminal segment unmeasurable, discarded")
		return
	case d < o.cfg.MinDuration:
		o.deps.Metrics.RecordSegmentDiscarded("too_short")
		logger.Info().Dur("duration", d).Dur("min", o.cfg.MinDuration).Msg("Terminal segment too short, discarded")
		return
	}
	seg.Duration = d
	o.submit(r, seg)
}

// submit starts one extraction+inference task for a sealed segment.
func (o *Orchestrator) submit(r *run, seg *segment.Segment) {
	r.expected++
	o.deps.Metrics.RecordSegmentSealed()
	logger := logging.WithSegment(r.sess.ID, seg.Index)
	logger.Debug().
		Dur("start", seg.Start).
		Dur("estimated", seg.Estimated).
		Bool("final", seg.Final).
		Int("fragments", seg.Fragments).
		Msg("Segment sealed")

	s := *seg
	r.group.Go(func() error {
		o.process(r, s)
		return nil
	})
}

// process extracts and transcribes one segment and records its piece.
// Failures stay local to the segment.
func (o *Orchestrator) process(r *run, seg segment.Segment) {
	logger := logging.WithEngine(r.sess.ID, seg.Index, o.deps.EngineName)
	piece := transcript.Piece{Index: seg.Index}

	start := time.Now()
	wf, err := o.deps.Extractor.Extract(r.ctx, seg)
	o.deps.Metrics.RecordExtraction(extract.Reason(err), time.Since(start).Seconds())

	if err == nil {
		piece.Text, err = o.deps.Gate.Transcribe(r.ctx, wf)
	}
	if err != nil {
		piece.Err = err
		logger.Warn().Err(err).Str("stage", stage(err)).Msg("Segment failed, leaving a gap")
	} else {
		piece.OK = true
		logger.Info().
			Dur("audio", wf.Duration).
			Dur("elapsed", time.Since(start)).
			Int("chars", len(piece.Text)).
			Msg("Segment transcribed")
	}

	if replaced, err := r.agg.Record(piece); err != nil {
		logger.Warn().Err(err).Msg("Piece arrived after finalize, dropped")
		return
	} else if replaced {
		logger.Warn().Msg("Duplicate piece for segment index, last write wins")
	}
	o.deps.Metrics.RecordPiece(piece.OK)
	o.publishPiece(r, seg, piece)
}

func stage(err error) string {
	switch {
	case errors.Is(err, gate.ErrInferenceFailed):
		return "inference"
	case errors.Is(err, extract.ErrExtractionFailed), errors.Is(err, extract.ErrSegmentUnmeasurable):
		return "extraction"
	default:
		return "cancelled"
	}
}

// finalize drains outstanding work with a bounded wait, assembles the
// transcript and emits the closing events.
func (o *Orchestrator) finalize(r *run) {
	drained := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(drained)
	}()

	var finErr error
	if o.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(o.cfg.DrainTimeout)
		select {
		case <-drained:
		case <-timer.C:
			finErr = transcript.ErrIncompleteSession
		}
		timer.Stop()
	} else {
		<-drained
	}
	r.cancel()
	r.agg.Seal()

	t := transcript.Assemble(r.sess.ID, r.expected, r.agg.SnapshotOrdered())
	if finErr != nil {
		t.Partial = true
	}

	r.mu.Lock()
	aborted := r.sess.Lifecycle.Complete() != nil
	state := r.sess.Lifecycle.State()
	reason := r.reason
	r.mu.Unlock()

	outcome := "complete"
	switch {
	case finErr != nil:
		outcome = "incomplete"
	case t.Partial:
		outcome = "partial"
	}
	o.deps.Metrics.RecordFinalize(outcome)
	o.deps.Metrics.RecordSessionEnd(!aborted, time.Since(r.sess.CreatedAt).Seconds())

	evt := r.logger.Info()
	if finErr != nil || aborted {
		evt = r.logger.Warn().AnErr("drainErr", finErr)
	}
	evt.Str("state", state.String()).
		Int("segments", r.expected).
		Ints("failed", t.Failed).
		Ints("missing", t.Missing).
		Int("chars", len(t.Text)).
		Msg("Session finalized")

	if aborted {
		o.publishError(r, reason)
	}
	final := o.publishFinal(r, t, aborted)

	r.result = Result{
		SessionID:  r.sess.ID,
		State:      state,
		Transcript: t,
		Final:      final,
		Err:        finErr,
		Reason:     reason,
	}
	close(r.done)

	time.AfterFunc(o.cfg.ResultTTL, func() { o.sessions.Delete(r.sess.ID) })
}

func (o *Orchestrator) publishPiece(r *run, seg segment.Segment, p transcript.Piece) {
	ev := models.TranscriptPiece{
		EventType:    models.EventTypePiece,
		SessionID:    r.sess.ID,
		Timestamp:    time.Now().UnixMilli(),
		SegmentID:    seg.ID(r.sess.ID),
		SegmentIndex: seg.Index,
		Text:         p.Text,
		OK:           p.OK,
	}
	if p.Err != nil {
		ev.Error = p.Err.Error()
	}
	o.publish(r, ev, o.deps.Sink.PublishPartial)
}

func (o *Orchestrator) publishFinal(r *run, t transcript.Transcript, aborted bool) models.FinalTranscript {
	status := t.Status()
	if aborted {
		status = models.StatusError
	}
	meta := r.sess.Metadata
	ev := models.FinalTranscript{
		EventType:       models.EventTypeFinal,
		SessionID:       r.sess.ID,
		Timestamp:       time.Now().UnixMilli(),
		Status:          status,
		Text:            t.Text,
		Segments:        r.expected,
		FailedSegments:  t.Failed,
		MissingSegments: t.Missing,
		DurationMs:      time.Since(r.sess.CreatedAt).Milliseconds(),
		Meeting: models.Meeting{
			Name:         meta.Name,
			Topic:        meta.Topic,
			Participants: meta.Participants,
			UserEmail:    meta.UserEmail,
		},
	}
	o.publish(r, ev, o.deps.Sink.PublishFinal)
	return ev
}

func (o *Orchestrator) publishError(r *run, reason string) {
	if reason == "" {
		reason = "session aborted"
	}
	ev := models.SessionError{
		EventType: models.EventTypeError,
		SessionID: r.sess.ID,
		Timestamp: time.Now().UnixMilli(),
		Message:   reason,
	}
	o.publish(r, ev, o.deps.Sink.PublishError)
}

// publish validates and sends an event. Publishing never fails the session.
func (o *Orchestrator) publish(r *run, ev any, send func(context.Context, string, any) error) {
	if err := o.deps.Validator.Validate(ev); err != nil {
		r.logger.Error().Err(err).Msg("Event failed validation, not published")
		return
	}
	// Publishing outlives the session context so closing events still go out.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := send(ctx, r.sess.ID, ev); err != nil {
		r.logger.Error().Err(err).Msg("Event publish failed")
	}
}
