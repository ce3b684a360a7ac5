package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/audio"
	"github.com/foxseedlab/streamkoshin/internal/discord"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/transcript"
	"github.com/google/uuid"
)

const (
	audioMixInterval = 20 * time.Millisecond
	statsInterval    = 30 * time.Second
	stopTimeout      = 15 * time.Second
	postBuffer       = 256
)

var (
	errAlreadyRunning = errors.New("voice channel is already being transcribed")
	errNotRunning     = errors.New("voice channel is not being transcribed")
	errShuttingDown   = errors.New("relay is shutting down")
)

// Sessions is the part of the session manager the relay drives.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	PushAudio(ctx context.Context, sessionID string, pcm []byte) error
	Stop(ctx context.Context, sessionID string) error
}

// Relay feeds Discord voice channels into transcription sessions and posts
// the finals back to the channel chat.
type Relay struct {
	guildID  string
	language string
	discord  discord.Client
	sessions Sessions
	newMixer audio.MixerFactory

	mu        sync.Mutex
	botUserID string
	channels  map[string]*channelSession
	closing   bool

	// wg counts one reservation per entry in channels plus helper
	// goroutines. Add is only called under mu, either before closing is set
	// or while a reserved channel keeps the counter above zero.
	wg sync.WaitGroup
}

type channelSession struct {
	sessionID string
	channelID string
	posts     chan string

	voice  discord.VoiceConnection
	mixer  audio.Mixer
	cancel context.CancelFunc

	// guarded by Relay.mu
	active   bool
	stopping bool
	reason   stopReason

	// written by the session sink only; read after posts is closed
	lines []string
}

func NewRelay(guildID, language string, dc discord.Client, sessions Sessions, newMixer audio.MixerFactory) *Relay {
	return &Relay{
		guildID:  guildID,
		language: language,
		discord:  dc,
		sessions: sessions,
		newMixer: newMixer,
		channels: make(map[string]*channelSession),
	}
}

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandStart, Description: slashCommandStartDescription},
		{Name: commandStop, Description: slashCommandStopDescription},
	}
}

// Register installs the slash commands and event handlers on a connected
// client.
func (r *Relay) Register() error {
	botUserID, err := r.discord.GetBotUserID()
	if err != nil {
		return fmt.Errorf("failed to resolve bot user id: %w", err)
	}
	r.mu.Lock()
	r.botUserID = botUserID
	r.mu.Unlock()

	if err := r.discord.UpsertGuildSlashCommands(r.guildID, SlashCommandDefinitions()); err != nil {
		return fmt.Errorf("failed to upsert slash commands: %w", err)
	}
	r.discord.RegisterSlashCommandHandler(r.HandleSlashCommand)
	r.discord.RegisterVoiceStateUpdateHandler(r.HandleVoiceStateUpdate)
	slog.Info("discord handlers registered", "guild_id", r.guildID, "commands", []string{commandStart, commandStop})
	return nil
}

func (r *Relay) HandleSlashCommand(ev discord.SlashCommandEvent) {
	respond := func(content string) {
		if ev.RespondEphemeral == nil {
			return
		}
		if err := ev.RespondEphemeral(content); err != nil {
			slog.Warn("failed to respond to slash command", "error", err, "command", ev.CommandName)
		}
	}
	if ev.GuildID != r.guildID {
		respond(messageEphemeralWrongGuild)
		return
	}
	if ev.CommandName != commandStart && ev.CommandName != commandStop {
		respond(messageEphemeralUnknownCommand)
		return
	}

	channelID, err := r.discord.GetUserVoiceChannelID(ev.GuildID, ev.UserID)
	if err != nil {
		slog.Error("failed to look up voice channel", "error", err, "user_id", ev.UserID)
		respond(messageEphemeralVoiceLookupFailed)
		return
	}
	if channelID == "" {
		respond(messageEphemeralJoinVCFirst)
		return
	}

	if ev.CommandName == commandStop {
		if err := r.stopChannel(channelID, stopReasonManualSlash); err != nil {
			respond(messageEphemeralNotRunning)
			return
		}
		respond(stopEphemeral(channelID))
		return
	}

	switch err := r.startChannel(channelID); {
	case errors.Is(err, errAlreadyRunning):
		respond(messageEphemeralAlreadyRunning)
	case err != nil:
		slog.Error("failed to start channel transcription", "error", err, "channel_id", channelID)
		respond(messageEphemeralStartFailed)
	default:
		respond(startEphemeral(channelID))
	}
}

// HandleVoiceStateUpdate stops a channel when the bot is removed from it or
// when the last human participant leaves.
func (r *Relay) HandleVoiceStateUpdate(ev discord.VoiceStateEvent) {
	if ev.GuildID != r.guildID || ev.BeforeChannelID == "" || ev.BeforeChannelID == ev.AfterChannelID {
		return
	}
	r.mu.Lock()
	botUserID := r.botUserID
	cs, ok := r.channels[ev.BeforeChannelID]
	running := ok && cs.active && !cs.stopping
	r.mu.Unlock()
	if !running {
		return
	}

	if ev.UserID == botUserID {
		_ = r.stopChannel(ev.BeforeChannelID, stopReasonBotRemoved)
		return
	}
	if ev.UserIsBot {
		return
	}
	participants, err := r.discord.ListVoiceChannelParticipants(ev.GuildID, ev.BeforeChannelID)
	if err != nil {
		slog.Warn("failed to list voice participants", "error", err, "channel_id", ev.BeforeChannelID)
		return
	}
	for _, p := range participants {
		if !p.IsBot && p.UserID != ev.UserID {
			return
		}
	}
	_ = r.stopChannel(ev.BeforeChannelID, stopReasonParticipantsLeft)
}

func (r *Relay) startChannel(channelID string) error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return errShuttingDown
	}
	if _, ok := r.channels[channelID]; ok {
		r.mu.Unlock()
		return errAlreadyRunning
	}
	cs := &channelSession{
		sessionID: "discord-" + uuid.NewString(),
		channelID: channelID,
		posts:     make(chan string, postBuffer),
	}
	r.channels[channelID] = cs
	r.wg.Add(1)
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.channels, channelID)
		r.mu.Unlock()
		r.wg.Done()
	}

	vc, err := r.discord.JoinVoiceChannel(r.guildID, channelID)
	if err != nil {
		release()
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	mixer := r.newMixer()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := r.sessions.Start(ctx, session.StartRequest{
		SessionID:         cs.sessionID,
		LanguageCode:      r.language,
		SampleRateHertz:   audio.SampleRateHertz,
		AudioChannelCount: audio.Channels,
		Sink:              &channelSink{relay: r, cs: cs},
	}); err != nil {
		cancel()
		mixer.Close()
		_ = vc.Disconnect()
		release()
		return fmt.Errorf("failed to start session: %w", err)
	}

	r.mu.Lock()
	cs.voice, cs.mixer, cs.cancel = vc, mixer, cancel
	cs.active = true
	r.wg.Add(1)
	r.mu.Unlock()
	slog.Info("channel transcription started", "session_id", cs.sessionID, "channel_id", channelID)

	if err := r.discord.SendChannelMessage(channelID, messageStartChannel); err != nil {
		slog.Warn("failed to post start message", "error", err, "channel_id", channelID)
	}

	go vc.ReceiveAudio(mixer.WriteOpusPacket)
	go func() {
		defer r.wg.Done()
		r.pumpAudio(ctx, cs.sessionID, mixer)
	}()
	go func() {
		defer r.wg.Done()
		r.postTranscripts(cs)
	}()
	return nil
}

func (r *Relay) stopChannel(channelID string, reason stopReason) error {
	r.mu.Lock()
	cs, ok := r.channels[channelID]
	if !ok || !cs.active || cs.stopping {
		r.mu.Unlock()
		return errNotRunning
	}
	cs.stopping = true
	cs.reason = reason
	r.wg.Add(1)
	r.mu.Unlock()

	slog.Info("stopping channel transcription", "session_id", cs.sessionID, "channel_id", channelID, "reason", reason)
	cs.cancel()
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := r.sessions.Stop(ctx, cs.sessionID); err != nil {
			slog.Warn("failed to stop session", "error", err, "session_id", cs.sessionID)
		}
	}()
	return nil
}

// pumpAudio pushes one mixed frame per tick until ctx ends or the session
// stops accepting audio.
func (r *Relay) pumpAudio(ctx context.Context, sessionID string, mixer audio.Mixer) {
	ticker := time.NewTicker(audioMixInterval)
	statsTicker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	defer statsTicker.Stop()
	buf := make([]byte, audio.FrameBytes)
	var pushed, silent int64
	for {
		select {
		case <-ctx.Done():
			slog.Debug("audio pump stopped", "session_id", sessionID, "pushed_frames", pushed, "silent_ticks", silent)
			return
		case <-statsTicker.C:
			slog.Debug("audio pump stats", "session_id", sessionID, "pushed_frames", pushed, "silent_ticks", silent)
		case <-ticker.C:
			n, err := mixer.ReadMixedPCM(buf)
			if err != nil {
				slog.Warn("failed to read mixed pcm", "error", err, "session_id", sessionID)
				continue
			}
			if n == 0 {
				silent++
				continue
			}
			if err := r.sessions.PushAudio(ctx, sessionID, buf[:n]); err != nil {
				if ctx.Err() == nil {
					slog.Warn("session stopped accepting audio", "error", err, "session_id", sessionID)
				}
				return
			}
			pushed++
		}
	}
}

// postTranscripts relays finals to the channel chat, then tears the channel
// down once the session has ended.
func (r *Relay) postTranscripts(cs *channelSession) {
	for msg := range cs.posts {
		if err := r.discord.SendChannelMessage(cs.channelID, msg); err != nil {
			slog.Warn("failed to post transcript message", "error", err, "session_id", cs.sessionID)
		}
	}

	cs.cancel()
	cs.mixer.Close()
	if err := cs.voice.Disconnect(); err != nil {
		slog.Warn("failed to disconnect voice", "error", err, "channel_id", cs.channelID)
	}

	r.mu.Lock()
	reason := cs.reason
	if reason == "" {
		reason = stopReasonStreamFailed
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.channels, cs.channelID)
		r.mu.Unlock()
	}()

	content := stopMessage(reason)
	if len(cs.lines) == 0 {
		if err := r.discord.SendChannelMessage(cs.channelID, content); err != nil {
			slog.Warn("failed to post stop message", "error", err, "channel_id", cs.channelID)
		}
		return
	}
	if err := r.discord.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID: cs.channelID,
		Content:   content + "\n" + messageAttachment,
		Filename:  fmt.Sprintf("transcript-%s.txt", cs.sessionID),
		FileBody:  []byte(strings.Join(cs.lines, "\n")),
	}); err != nil {
		slog.Warn("failed to post transcript file", "error", err, "channel_id", cs.channelID)
	}
	slog.Info("channel transcription finished", "session_id", cs.sessionID, "channel_id", cs.channelID, "reason", reason, "lines", len(cs.lines))
}

// Shutdown stops every channel and waits for their transcripts to be
// posted. Channels cannot be started once it has been called.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.stopChannel(id, stopReasonServerClosed)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// channelSink receives one session's results. Callbacks are serialized by
// the session.
type channelSink struct {
	relay *Relay
	cs    *channelSession
}

func (s *channelSink) OnInterim(string, string) {}

func (s *channelSink) OnFinal(_ string, result session.TranscriptResult) {
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}
	s.cs.lines = append(s.cs.lines, transcript.FormatLine(result.CorrectedTimestampMs, text))
	select {
	case s.cs.posts <- text:
	default:
		slog.Warn("discord post backlog full; dropping message", "session_id", s.cs.sessionID)
	}
}

func (s *channelSink) OnError(sessionID string, err error) {
	slog.Error("channel session failed", "error", err, "session_id", sessionID)
	s.relay.mu.Lock()
	if s.cs.reason == "" {
		s.cs.reason = stopReasonStreamFailed
	}
	s.relay.mu.Unlock()
	close(s.cs.posts)
}

func (s *channelSink) OnComplete(string, session.Summary) {
	close(s.cs.posts)
}
