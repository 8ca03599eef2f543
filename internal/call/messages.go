package call

const (
	messageStartFailed        = "Unable to start the video call. Please try again."
	messageMissingAppointment = "No appointment was selected for this call."

	stopReasonUserEnded   = "ended by user"
	stopReasonClosed      = "call screen closed"
	stopReasonCancelled   = "cancelled while connecting"
	stopReasonOrphaned    = "superseded by a new call attempt"
	stopReasonStartFailed = "failed to connect"
)

const (
	failReasonConfiguration = "configuration"
	failReasonToken         = "token"
	failReasonStart         = "start"
	failReasonJoin          = "join"
	failReasonPublish       = "publish"
)

func transcriptFilename(videoCallID string) string {
	return "transcript-" + videoCallID + ".txt"
}
