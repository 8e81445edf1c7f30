package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/book-expert/voice-studio/internal/connectivity"
	"github.com/book-expert/voice-studio/internal/fileutil"
	"github.com/book-expert/voice-studio/internal/history"
	"github.com/book-expert/voice-studio/internal/notify"
	"github.com/book-expert/voice-studio/internal/studio"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/voiceclone"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	shellPrompt       = "studio> "
	shellHistoryFile  = ".voice_studio_history"
	shellHistoryLimit = 200
	textPreviewRunes  = 40
)

const shellHelp = `Commands:
  say <text>         render text with the current voice and play it
  cancel             cancel the running render or upload
  voices             list voices, * marks the selected one
  use <voice>        select a voice
  lang [code]        show or set the language
  format [wav|mp3]   show or set the output format
  history            list rendered results, most recent first
  play <n|id>        play or stop a result
  stop               stop playback
  delete <n|id>      delete a result
  clear              delete every result
  save <n|id>        write a result to the download directory
  clone <file>       upload a voice sample and select the new voice
  drop <file>        drop a voice sample on the upload zone
  recheck            probe the service again
  status             show the session state
  exit               leave the shell
`

// lockedWriter serializes writes from the prompt loop, background renders
// and the notification timer.
type lockedWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.out.Write(p)
}

// shell is the interactive studio surface. Renders and uploads run in the
// background so the prompt stays usable for cancel.
type shell struct {
	session *studio.Session
	out     io.Writer

	defaultLanguage string
	defaultFormat   string
	opts            studio.GenerateOptions

	pending sync.WaitGroup
}

func newShell(session *studio.Session, out io.Writer, defaultLanguage, defaultFormat string) *shell {
	return &shell{
		session:         session,
		out:             &lockedWriter{out: out},
		defaultLanguage: defaultLanguage,
		defaultFormat:   defaultFormat,
	}
}

func newShellCommand(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive studio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := application.open()
			if err != nil {
				return err
			}

			return runShell(cmd.Context(), application, session)
		},
	}
}

func runShell(ctx context.Context, application *app, session *studio.Session) error {
	lineReader, err := readline.NewEx(&readline.Config{
		Prompt:          shellPrompt,
		HistoryFile:     filepath.Join(os.TempDir(), shellHistoryFile),
		HistoryLimit:    shellHistoryLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}

	defer func() {
		_ = lineReader.Close()
	}()

	studioShell := newShell(session, lineReader.Stdout(),
		application.cfg.Studio.DefaultLanguage, application.cfg.Studio.DefaultFormat)
	studioShell.attach()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	go func() {
		watchErr := session.Watch(watchCtx)
		if watchErr != nil {
			fmt.Fprintln(studioShell.out, watchErr)
		}
	}()

	fmt.Fprintf(studioShell.out, "voice-studio on %s (type help, Ctrl+D to exit)\n", application.cfg.Studio.BaseURL)
	session.Start(ctx)

	for {
		line, readErr := lineReader.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) || errors.Is(readErr, io.EOF) {
				break
			}

			fmt.Fprintf(studioShell.out, "error reading input: %v\n", readErr)

			continue
		}

		if studioShell.execute(ctx, line) {
			break
		}
	}

	session.Cancel()
	studioShell.wait()

	return nil
}

// attach prints notifications and connectivity transitions as they happen.
func (s *shell) attach() {
	s.session.Notifications().SetSink(func(current *notify.Notification) {
		if current == nil {
			return
		}

		if current.Kind == notify.KindError && current.Retryable {
			fmt.Fprintf(s.out, "[%s] %s (retry with recheck)\n", current.Kind, current.Message)

			return
		}

		fmt.Fprintf(s.out, "[%s] %s\n", current.Kind, current.Message)
	})

	s.session.OnConnectivityChange(func(previous, next connectivity.State) {
		if next == connectivity.Checking || previous == next {
			return
		}

		fmt.Fprintf(s.out, "service is %s\n", next)
	})
}

// wait blocks until background renders and uploads have returned.
func (s *shell) wait() {
	s.pending.Wait()
}

// execute runs one input line and reports whether the shell should exit.
func (s *shell) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	command := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch command {
	case "exit", "quit":
		return true
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
	case "say":
		s.say(ctx, rest)
	case "cancel":
		s.cancel()
	case "voices":
		s.voices()
	case "use":
		s.use(rest)
	case "lang":
		s.language(rest)
	case "format":
		s.format(rest)
	case "history":
		s.history()
	case "play":
		s.play(ctx, rest)
	case "stop":
		s.session.Stop()
	case "delete":
		s.withResult(rest, func(id string) { _ = s.session.Delete(ctx, id) })
	case "clear":
		fmt.Fprintf(s.out, "removed %d results\n", s.session.Clear(ctx))
	case "save":
		s.withResult(rest, func(id string) { _, _ = s.session.Download(ctx, id) })
	case "clone":
		s.clone(ctx, rest)
	case "drop":
		s.drop(ctx, rest)
	case "recheck":
		fmt.Fprintf(s.out, "service is %s\n", s.session.Recheck(ctx))
	case "status":
		s.status()
	default:
		fmt.Fprintf(s.out, "unknown command %q, type help\n", fields[0])
	}

	return false
}

func (s *shell) say(ctx context.Context, text string) {
	if text == "" {
		fmt.Fprintln(s.out, "usage: say <text>")

		return
	}

	opts := s.opts

	s.pending.Add(1)

	go func() {
		defer s.pending.Done()

		result, err := s.session.Generate(ctx, text, opts)
		if err != nil {
			return
		}

		fmt.Fprintf(s.out, "generated %s with %s\n", result.ID, result.VoiceID)
	}()
}

func (s *shell) cancel() {
	if s.session.Cancel() {
		fmt.Fprintln(s.out, "cancelled")

		return
	}

	fmt.Fprintln(s.out, "nothing to cancel")
}

func (s *shell) voices() {
	selected, _ := s.session.SelectedVoice()

	profiles := s.session.Voices()
	if len(profiles) == 0 {
		fmt.Fprintln(s.out, "no voices, try recheck")

		return
	}

	for _, profile := range profiles {
		marker := unselectedMarker
		if profile.ID == selected.ID {
			marker = selectedMarker
		}

		fmt.Fprintf(s.out, voiceLineFormat, marker, profile.ID)
	}
}

func (s *shell) use(id string) {
	if id == "" {
		fmt.Fprintln(s.out, "usage: use <voice>")

		return
	}

	if s.session.SelectVoice(id) == nil {
		fmt.Fprintf(s.out, "voice %s selected\n", id)
	}
}

func (s *shell) language(code string) {
	if code == "" {
		codes := make([]string, 0, len(tts.Languages()))
		for _, language := range tts.Languages() {
			codes = append(codes, string(language))
		}

		fmt.Fprintf(s.out, "language %s (supported: %s)\n", s.currentLanguage(), strings.Join(codes, " "))

		return
	}

	language, err := tts.ParseLanguage(code)
	if err != nil {
		fmt.Fprintln(s.out, err)

		return
	}

	s.opts.Language = string(language)
	fmt.Fprintf(s.out, "language %s\n", language)
}

func (s *shell) format(name string) {
	if name == "" {
		fmt.Fprintf(s.out, "format %s (supported: %s %s)\n", s.currentFormat(), tts.FormatWAV, tts.FormatMP3)

		return
	}

	format, err := tts.ParseFormat(name)
	if err != nil {
		fmt.Fprintln(s.out, err)

		return
	}

	s.opts.Format = string(format)
	fmt.Fprintf(s.out, "format %s\n", format)
}

func (s *shell) currentLanguage() string {
	if s.opts.Language != "" {
		return s.opts.Language
	}

	return s.defaultLanguage
}

func (s *shell) currentFormat() string {
	if s.opts.Format != "" {
		return s.opts.Format
	}

	return s.defaultFormat
}

func (s *shell) history() {
	results := s.session.History()
	if len(results) == 0 {
		fmt.Fprintln(s.out, "no results yet")

		return
	}

	playing, _ := s.session.Playing()

	for index, result := range results {
		marker := unselectedMarker
		if result.ID == playing {
			marker = ">"
		}

		fmt.Fprintf(s.out, "%s %2d  %s  %s %s/%s %s  %q\n",
			marker,
			index+1,
			result.ID,
			result.VoiceID,
			result.Language,
			result.Format,
			fileutil.FormatDuration(result.Handle.Duration()),
			preview(result.Text),
		)
	}
}

func (s *shell) play(ctx context.Context, ref string) {
	s.withResult(ref, func(id string) {
		playing, err := s.session.TogglePlay(ctx, id)
		if err != nil {
			return
		}

		if playing {
			fmt.Fprintf(s.out, "playing %s\n", id)

			return
		}

		fmt.Fprintf(s.out, "stopped %s\n", id)
	})
}

// withResult resolves a 1-based history index or a result id and calls fn.
func (s *shell) withResult(ref string, fn func(id string)) {
	if ref == "" {
		fmt.Fprintln(s.out, "missing result number or id, see history")

		return
	}

	fn(resolveResult(s.session.History(), ref))
}

func resolveResult(results []history.GenerationResult, ref string) string {
	index, err := strconv.Atoi(ref)
	if err == nil && index >= 1 && index <= len(results) {
		return results[index-1].ID
	}

	return ref
}

func (s *shell) clone(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "usage: clone <file>")

		return
	}

	s.pending.Add(1)

	go func() {
		defer s.pending.Done()

		profile, err := s.session.Clone(ctx, path)
		if err != nil {
			return
		}

		fmt.Fprintf(s.out, "voice %s selected\n", profile.ID)
	}()
}

func (s *shell) drop(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "usage: drop <file>")

		return
	}

	zone := s.session.DropZone()
	zone.Enter()

	sample, err := voiceclone.LoadSample(path)
	if err != nil {
		zone.Leave()
		fmt.Fprintln(s.out, err)

		return
	}

	s.pending.Add(1)

	go func() {
		defer s.pending.Done()

		profile, dropErr := zone.Drop(ctx, sample)
		if dropErr != nil {
			return
		}

		fmt.Fprintf(s.out, "voice %s selected\n", profile.ID)
	}()
}

func (s *shell) status() {
	selected, ok := s.session.SelectedVoice()

	voice := "none"
	if ok {
		voice = selected.ID
	}

	fmt.Fprintf(s.out, "service:  %s at %s\n", s.session.Connectivity(), s.session.ServiceURL())
	fmt.Fprintf(s.out, "voice:    %s\n", voice)
	fmt.Fprintf(s.out, "language: %s\n", s.currentLanguage())
	fmt.Fprintf(s.out, "format:   %s\n", s.currentFormat())
	fmt.Fprintf(s.out, "busy:     %t\n", s.session.Busy())
	fmt.Fprintf(s.out, "upload:   %s\n", s.session.UploadState())
	fmt.Fprintf(s.out, "results:  %d\n", len(s.session.History()))
	fmt.Fprintf(s.out, "audio:    %d live\n", s.session.LiveAudio())
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= textPreviewRunes {
		return string(runes)
	}

	return string(runes[:textPreviewRunes]) + "..."
}
