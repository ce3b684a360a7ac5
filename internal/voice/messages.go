package voice

import "fmt"

const (
	commandStart = "transcribe"
	commandStop  = "transcribe-stop"

	slashCommandStartDescription = "Start transcribing the voice channel you are in."
	slashCommandStopDescription  = "Stop transcribing the voice channel you are in."

	messageEphemeralWrongGuild        = ":warning: **This command is not available in this server.**"
	messageEphemeralUnknownCommand    = ":warning: **Unknown command.**"
	messageEphemeralVoiceLookupFailed = ":warning: **Could not check your voice channel.**"
	messageEphemeralJoinVCFirst       = ":warning: **Join a voice channel first.**"
	messageEphemeralAlreadyRunning    = ":warning: **This voice channel is already being transcribed.**"
	messageEphemeralStartFailed       = ":warning: **Failed to start transcription.**"
	messageEphemeralNotRunning        = ":warning: **This voice channel is not being transcribed.**"

	messageStartChannel = ":microphone2: **Transcription started.**\n-# Use /" + commandStop + " to stop."
	messageAttachment   = ":page_facing_up: **Transcript**"

	messageStartEphemeralFormat = ":microphone2: **Transcribing** <#%s>"
	messageStopEphemeralFormat  = ":pause_button: **Stopping transcription of** <#%s>"
)

type stopReason string

const (
	stopReasonManualSlash      stopReason = "manual_slash"
	stopReasonParticipantsLeft stopReason = "participants_left"
	stopReasonBotRemoved       stopReason = "bot_removed"
	stopReasonServerClosed     stopReason = "server_closed"
	stopReasonStreamFailed     stopReason = "stream_failed"
)

func startEphemeral(channelID string) string {
	return fmt.Sprintf(messageStartEphemeralFormat, channelID)
}

func stopEphemeral(channelID string) string {
	return fmt.Sprintf(messageStopEphemeralFormat, channelID)
}

func stopMessage(reason stopReason) string {
	var detail string
	switch reason {
	case stopReasonManualSlash:
		detail = "A participant ran the stop command."
	case stopReasonParticipantsLeft:
		detail = "Everyone left the voice channel."
	case stopReasonBotRemoved:
		detail = "The bot was removed from the voice channel."
	case stopReasonServerClosed:
		detail = "The transcription server is shutting down."
	default:
		detail = "The speech service reported an error."
	}
	msg := ":pause_button: **Transcription stopped.**\n" + detail
	if reason != stopReasonManualSlash && reason != stopReasonParticipantsLeft {
		msg += "\n-# Use /" + commandStart + " to start again."
	}
	return msg
}
