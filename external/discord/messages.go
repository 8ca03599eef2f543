package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/teleconsult/internal/notify"
)

const (
	messageStartTitle      = ":stethoscope: **Teleconsultation started.**"
	messageEndTitle        = ":white_check_mark: **Teleconsultation ended.**"
	messageFlushFailedHint = ":warning: The transcript could not be saved to the portal. It is kept in the local call journal."
	messageDegradedFormat  = "-# Local media degraded: %s"
	messageAttachmentHint  = "-# The transcript is attached."
	messageEmptyTranscript = "-# No speech was transcribed."
)

func callStartedMessage(ev notify.CallStarted) string {
	lines := []string{
		messageStartTitle,
		fmt.Sprintf("Appointment `%s` / video call `%s`", ev.AppointmentID, ev.VideoCallID),
		fmt.Sprintf("Channel `%s`, joined as `%s`", ev.ChannelName, ev.LocalIdentity),
	}
	if ev.Degradation != "" && ev.Degradation != "none" {
		lines = append(lines, fmt.Sprintf(messageDegradedFormat, ev.Degradation))
	}
	return strings.Join(lines, "\n")
}

func callEndedMessage(ev notify.CallEnded) string {
	duration := ev.EndedAt.Sub(ev.StartedAt).Truncate(time.Second)
	if duration < 0 {
		duration = 0
	}
	lines := []string{
		messageEndTitle,
		fmt.Sprintf("Appointment `%s` / video call `%s`", ev.AppointmentID, ev.VideoCallID),
		fmt.Sprintf("Duration %s, %d transcript entries", duration, ev.EntryCount),
	}
	if !ev.Flushed {
		lines = append(lines, messageFlushFailedHint)
	}
	switch {
	case ev.EntryCount == 0:
		lines = append(lines, messageEmptyTranscript)
	case len(ev.Transcript) > 0:
		lines = append(lines, messageAttachmentHint)
	}
	return strings.Join(lines, "\n")
}
