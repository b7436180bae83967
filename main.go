// Package main provides the voxcall CLI, a push-to-talk voice call
// client. "voxcall run" opens an interactive session: press Enter to
// place a call, speak while the live transcript updates, press Enter
// again to hang up. Finished call transcripts land in a local history
// database, listed by "voxcall history".
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"go.renvo.me/voxcall/audio"
	"go.renvo.me/voxcall/config"
	"go.renvo.me/voxcall/internal/types"
	"go.renvo.me/voxcall/realtime"
	"go.renvo.me/voxcall/session"
	"go.renvo.me/voxcall/store"
	"go.renvo.me/voxcall/transcribe"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "voxcall",
		Short:         "Push-to-talk voice call client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	root.AddCommand(runCmd(), historyCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start an interactive call session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runSession(cfg)
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent call transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if limit == 0 {
				limit = cfg.HistoryLimit
			}

			dir, err := cfg.HistoryPath()
			if err != nil {
				return err
			}
			hist, err := store.Open(store.Options{Dir: dir})
			if err != nil {
				return err
			}
			defer hist.Close()

			calls, err := hist.Recent(limit)
			if err != nil {
				return err
			}
			if len(calls) == 0 {
				fmt.Println("no recorded calls")
				return nil
			}
			for _, c := range calls {
				fmt.Printf("%s  %s\n", c.StartedAt.Local().Format(time.DateTime), c.ID)
				for _, line := range c.Lines {
					fmt.Printf("    %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum calls to list (0 = config default)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voxcall %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func runSession(cfg *config.Config) error {
	// Speaker output is optional: without it calls skip the ring cue and
	// play no response audio, but recording and transcription still work.
	speaker := openSpeaker(cfg.SampleRate)

	var hist *store.Store
	if dir, err := cfg.HistoryPath(); err != nil {
		slog.Warn("call history disabled", "error", err)
	} else if hist, err = store.Open(store.Options{Dir: dir}); err != nil {
		slog.Warn("call history disabled", "error", err)
		hist = nil
	}
	if hist != nil {
		defer hist.Close()
	}

	capture := audio.New(audio.NewDevice(audio.DeviceConfig{
		SampleRate: cfg.SampleRate,
		Channels:   1,
	}), audio.Config{FrameSize: cfg.FrameSize})

	rt := realtime.New(realtime.Config{
		URL:    cfg.RealtimeURL,
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  cfg.RealtimeModel,
		Voice:  cfg.RealtimeVoice,
	})

	channelCfg := transcribe.DefaultConfig(cfg.TranscribeURL)
	channelCfg.MaxAttempts = cfg.MaxRetries
	channelCfg.RetryInterval = cfg.RetryInterval()
	channel := transcribe.New(channelCfg)

	playback := session.NewPlayback(speaker)
	defer playback.Close()

	ctl := session.New(session.Deps{
		Capture:  capture,
		Channel:  channel,
		Realtime: rt,
		Cue:      session.NewRinger(speaker, cfg.SampleRate),
		Player:   playback,
		History:  hist,
	}, session.Config{
		RingDuration:  cfg.RingDuration(),
		SuppressEmpty: cfg.SuppressEmptyTranscripts,
	})
	defer ctl.Close()
	defer channel.Close()
	defer func() {
		if err := rt.Stop(); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			slog.Warn("stop realtime session", "error", err)
		}
	}()

	// Every captured frame fans out to both remote consumers. Frames that
	// arrive while a socket is down are dropped here, not queued.
	capture.OnFrame("realtime", func(encoded string) {
		if err := rt.SendAudio(encoded); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			slog.Warn("send audio to realtime", "error", err)
		}
	})
	capture.OnFrame("transcribe", func(encoded string) {
		if err := channel.SendFrame(encoded); err != nil && !errors.Is(err, transcribe.ErrNotOpen) {
			slog.Warn("send audio to transcription", "error", err)
		}
	})

	channel.OnTranscript(ctl.HandleTranscript)
	channel.OnError(ctl.HandleChannelError)
	channel.OnState(func(s transcribe.State) {
		slog.Debug("transcription channel", "state", s)
	})

	ctl.OnStateChange(func(s session.CallState) {
		switch s {
		case session.CallRinging:
			fmt.Println("* ringing...")
		case session.CallRecording:
			fmt.Println("* call connected, speak now (Enter to hang up)")
		case session.CallIdle:
			fmt.Println("* call ended")
		}
	})
	ctl.OnTranscript(func(lines []string) {
		fmt.Printf("\r> %s\n", strings.Join(lines, " "))
	})
	ctl.OnNotice(func(text string) {
		fmt.Printf("! %s\n", text)
	})

	go pumpRealtimeEvents(rt, playback, ctl)

	fmt.Println("voxcall ready. Press Enter to call, q to quit.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "q" || line == "quit" {
				return nil
			}
			if line == "s" || line == "status" {
				printStatus(ctl, channel)
				continue
			}
			if line != "" {
				continue
			}
			if err := ctl.Toggle(); err != nil {
				if errors.Is(err, session.ErrRinging) {
					continue
				}
				slog.Error("toggle call", "error", err)
			}
		case s := <-sig:
			slog.Info("shutting down", "signal", s)
			return nil
		}
	}
}

// printStatus dumps the current session as JSON, for scripting against
// the interactive prompt.
func printStatus(ctl *session.Controller, channel *transcribe.Channel) {
	state, callID, startedAt, lines := ctl.Status()
	status := types.CallStatus{
		State:           state.String(),
		CallID:          callID,
		ChannelState:    channel.State().String(),
		TranscriptCount: len(lines),
		Transcript:      lines,
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UnixMilli()
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		slog.Error("encode status", "error", err)
		return
	}
	fmt.Println(string(out))
}

// pumpRealtimeEvents routes conversation-service events: response audio
// goes to the speaker, a speech-started event means the user barged in
// and pending response audio must be dropped.
func pumpRealtimeEvents(rt *realtime.Client, playback *session.Playback, ctl *session.Controller) {
	for ev := range rt.Events() {
		switch ev.Type {
		case realtime.EventAudioDelta:
			playback.Write(ev.Audio)
		case realtime.EventSpeechStarted:
			playback.Reset()
		case realtime.EventError:
			ctl.HandleRealtimeError(ev.Err)
		}
	}
}

func openSpeaker(sampleRate int) *oto.Context {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		slog.Warn("speaker unavailable, audio output disabled", "error", err)
		return nil
	}
	<-ready
	return ctx
}
